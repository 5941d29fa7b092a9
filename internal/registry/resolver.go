// Package registry resolves base-image tags against their registry and
// exposes remote digests for freshness checks.
package registry

import (
	"context"
	"fmt"
	"sort"

	mvc "github.com/Masterminds/semver/v3"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// tagLister abstracts remote.List so the selection logic can be tested
// without a registry.
type tagLister func(ctx context.Context, image string) ([]string, error)

type Resolver struct {
	keychain authn.Keychain
	auth     authn.Authenticator
	listTags tagLister
}

// NewResolver builds a resolver. When user/pass are provided they are used as
// static basic auth; otherwise the standard docker config keychain applies.
func NewResolver(user, pass string) *Resolver {
	r := &Resolver{keychain: authn.DefaultKeychain}
	if user != "" || pass != "" {
		r.auth = &authn.Basic{Username: user, Password: pass}
	}
	r.listTags = r.remoteTags
	return r
}

func (r *Resolver) remoteOpts(ctx context.Context) []remote.Option {
	opts := []remote.Option{remote.WithContext(ctx)}
	if r.auth != nil {
		opts = append(opts, remote.WithAuth(r.auth))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(r.keychain))
	}
	return opts
}

func (r *Resolver) remoteTags(ctx context.Context, image string) ([]string, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	tags, err := remote.List(ref.Context(), r.remoteOpts(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("list tags for %s: %w", ref.Context().Name(), err)
	}
	return tags, nil
}

// ResolveTag returns the highest registry tag of image that satisfies the
// semver policy constraint (e.g. "3.12.x", "^1.2").
// Non-semver tags such as "latest" or "alpine" are ignored.
func (r *Resolver) ResolveTag(ctx context.Context, image, policy string) (string, error) {
	constraint, err := mvc.NewConstraint(policy)
	if err != nil {
		return "", fmt.Errorf("invalid base policy %q: %w", policy, err)
	}

	tags, err := r.listTags(ctx, image)
	if err != nil {
		return "", err
	}

	var versions []*mvc.Version
	// Preserve the registry's exact tag spelling (e.g. a "v" prefix).
	originalTags := make(map[string]string)
	for _, t := range tags {
		v, err := mvc.NewVersion(t)
		if err != nil {
			continue
		}
		if constraint.Check(v) {
			versions = append(versions, v)
			originalTags[v.Original()] = t
		}
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("no tags matching policy %q for %s", policy, image)
	}

	sort.Sort(mvc.Collection(versions))
	highest := versions[len(versions)-1]
	tag := originalTags[highest.Original()]
	if tag == "" {
		tag = highest.Original()
	}
	return tag, nil
}

// Digest returns the remote manifest digest of the given image reference,
// used to detect when a mutable tag has moved.
func (r *Resolver) Digest(ctx context.Context, image string) (string, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	desc, err := remote.Head(ref, r.remoteOpts(ctx)...)
	if err != nil {
		return "", fmt.Errorf("head %s: %w", image, err)
	}
	return desc.Digest.String(), nil
}
