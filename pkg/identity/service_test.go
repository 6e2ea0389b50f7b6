package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/commshub/pkg/audience"
	commserrors "github.com/kart-io/commshub/pkg/errors"
)

type recordingResolver struct {
	calls [][]Reference
	make  func(Reference) *Profile
}

func (r *recordingResolver) Resolve(_ context.Context, refs []Reference) ([]*Profile, error) {
	r.calls = append(r.calls, refs)
	out := make([]*Profile, 0, len(refs))
	for _, ref := range refs {
		out = append(out, r.make(ref))
	}
	return out, nil
}

func profileFor(ref Reference) *Profile {
	return &Profile{ID: ref.ID, Type: ref.Type, Addresses: []audience.Address{audience.New(ref.ID + "@example.com")}}
}

func TestResolveProfiles_Guards(t *testing.T) {
	svc := NewService(NewRegistry(), nil)
	_, err := svc.ResolveProfiles(context.Background(), nil)
	assert.True(t, commserrors.IsArgument(err))
	_, err = svc.ResolveProfiles(context.Background(), []Reference{})
	assert.True(t, commserrors.IsArgument(err))
}

func TestResolveProfiles_TypeFilteringAndWildcards(t *testing.T) {
	customers := &recordingResolver{make: profileFor}
	staff := &recordingResolver{make: profileFor}
	enrich := &recordingResolver{make: func(ref Reference) *Profile {
		return &Profile{ID: ref.ID, Type: ref.Type, Attributes: map[string]string{"enriched": "true"}}
	}}
	unused := &recordingResolver{make: profileFor}

	reg := NewRegistry()
	require.NoError(t, reg.Register(Registration{Name: "customers", PlatformIdentityType: "customer", New: Static(customers)}))
	require.NoError(t, reg.Register(Registration{Name: "staff", PlatformIdentityType: "staff", New: Static(staff)}))
	require.NoError(t, reg.Register(Registration{Name: "enrich", New: Static(enrich)}))
	require.NoError(t, reg.Register(Registration{Name: "partners", PlatformIdentityType: "partner", New: Static(unused)}))

	refs := []Reference{
		NewReference("customer", "c1"),
		NewReference("Staff", "s1"),
		NewReference("customer", "c2"),
	}
	profiles, err := NewService(reg, nil).ResolveProfiles(context.Background(), refs)
	require.NoError(t, err)

	require.Len(t, customers.calls, 1)
	assert.Equal(t, []Reference{refs[0], refs[2]}, customers.calls[0])
	require.Len(t, staff.calls, 1)
	assert.Equal(t, []Reference{refs[1]}, staff.calls[0])
	require.Len(t, enrich.calls, 1)
	assert.Equal(t, refs, enrich.calls[0])
	assert.Empty(t, unused.calls)

	// 2 customers + 1 staff + 3 enrichment, no dedup
	assert.Len(t, profiles, 6)
}

func TestResolveProfiles_ConstructedPerCall(t *testing.T) {
	constructed := 0
	reg := NewRegistry()
	require.NoError(t, reg.Register(Registration{Name: "counting", New: func() (Resolver, error) {
		constructed++
		return NewMemoryResolver(), nil
	}}))
	svc := NewService(reg, nil)
	for i := 0; i < 3; i++ {
		_, err := svc.ResolveProfiles(context.Background(), []Reference{NewReference("t", "1")})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, constructed)
}

func TestResolveProfiles_ConstructionFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Registration{Name: "broken", New: func() (Resolver, error) {
		return nil, errors.New("no database")
	}}))
	_, err := NewService(reg, nil).ResolveProfiles(context.Background(), []Reference{NewReference("t", "1")})
	require.Error(t, err)
	assert.True(t, commserrors.IsResolution(err))
	assert.Contains(t, err.Error(), "no database")
}

func TestResolveProfiles_PartialResolution(t *testing.T) {
	mem := NewMemoryResolver(&Profile{ID: "known", Type: "user"})
	reg := NewRegistry()
	require.NoError(t, reg.Register(Registration{Name: "users", PlatformIdentityType: "user", New: Static(mem)}))

	profiles, err := NewService(reg, nil).ResolveProfiles(context.Background(), []Reference{
		NewReference("user", "known"),
		NewReference("USER", "unknown"),
	})
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "known", profiles[0].ID)
}

func TestRegistry_RejectsMissingConstructor(t *testing.T) {
	err := NewRegistry().Register(Registration{Name: "x"})
	assert.True(t, commserrors.IsArgument(err))
}

func TestProfileHelpers(t *testing.T) {
	p := &Profile{Type: "Customer", ChannelPreferences: []string{"sms"}, Attributes: map[string]string{"tier": "gold"}}
	assert.True(t, p.IsType("customer"))
	assert.True(t, p.PrefersChannel("SMS"))
	assert.False(t, p.PrefersChannel("email"))
	v, ok := p.Attribute("tier")
	assert.True(t, ok)
	assert.Equal(t, "gold", v)
	_, ok = (*Profile)(nil).Attribute("tier")
	assert.False(t, ok)
	assert.Equal(t, "user:42", NewReference("user", "42").String())
}
