package store_test

import (
	"context"
	"errors"
	"math"
	"net/netip"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/schema"
	"github.com/jacentio/switchstore/snapshot"
	"github.com/jacentio/switchstore/store"
)

const (
	portSpeed = attr.ID(1)
	portAdmin = attr.ID(2)
	portLanes = attr.ID(3)
	portLabel = attr.ID(4)
	portMTU   = attr.ID(5)
	portMAC   = attr.ID(6)

	mirrorPort    = attr.ID(1)
	mirrorMonitor = attr.ID(2)
	mirrorSampler = attr.ID(3)
	mirrorShadow  = attr.ID(4)
	mirrorMode    = attr.ID(5)
	mirrorVLANs   = attr.ID(6)

	routePrefix  = attr.ID(1)
	routeVRF     = attr.ID(2)
	routeNextHop = attr.ID(3)
	routeGateway = attr.ID(4)
	routeL4      = attr.ID(5)
)

// --- Helpers ---

func loadSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.Load("testdata/switch.yaml")
	require.NoError(t, err, "Failed to load test schema")
	return sch
}

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(loadSchema(t), store.DefaultConfig())
}

func speed(v uint32) attr.Attribute { return attr.New(portSpeed, attr.U32(v)) }

func lanes(vs ...uint32) attr.Attribute {
	l := make(attr.List[attr.U32], len(vs))
	for i, v := range vs {
		l[i] = attr.U32(v)
	}
	return attr.New(portLanes, l)
}

func createPort(t *testing.T, s *store.Store, attrs ...attr.Attribute) attr.Handle {
	t.Helper()
	h, err := s.Create(context.Background(), "port", append([]attr.Attribute{speed(100)}, attrs...)...)
	require.NoError(t, err)
	return h
}

func createMirror(t *testing.T, s *store.Store, port attr.Handle, attrs ...attr.Attribute) attr.Handle {
	t.Helper()
	h, err := s.Create(context.Background(), "mirror", append([]attr.Attribute{attr.New(mirrorPort, port)}, attrs...)...)
	require.NoError(t, err)
	return h
}

func route(prefix string, vrf uint32) []attr.Attribute {
	return []attr.Attribute{
		attr.New(routePrefix, attr.Prefix(netip.MustParsePrefix(prefix))),
		attr.New(routeVRF, attr.U32(vrf)),
	}
}

// --- End-to-End Tests ---

func TestPortMirror_EndToEnd(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	h1 := createPort(t, s)
	h2 := createMirror(t, s, h1)

	require.Equal(t, []attr.Handle{h2}, s.Referrers(h1, "mirror"))
	require.ErrorIs(t, s.Delete(ctx, h1), store.ErrResourceInUse)
	require.True(t, s.Exists(h1), "failed delete leaves the graph untouched")
	require.NoError(t, s.Delete(ctx, h2))
	require.Empty(t, s.Referrers(h1, "mirror"))
	require.NoError(t, s.Delete(ctx, h1))
	require.False(t, s.Exists(h1))
}

// --- Create Tests ---

func TestCreate_Validation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s)

	tests := []struct {
		name  string
		typ   attr.ObjectType
		attrs []attr.Attribute
		want  error
	}{
		{"unknown type", "vlan", nil, store.ErrInvalidParameter},
		{"unknown attribute", "port", []attr.Attribute{speed(1), attr.New(99, attr.U32(1))}, store.ErrInvalidParameter},
		{"type mismatch", "port", []attr.Attribute{attr.New(portSpeed, attr.U16(1))}, attr.ErrTypeMismatch},
		{"missing mandatory", "port", []attr.Attribute{attr.New(portAdmin, attr.Bool(true))}, store.ErrInvalidParameter},
		{"nil value", "port", []attr.Attribute{{ID: portSpeed}}, store.ErrInvalidParameter},
		{"read-only by caller", "mirror", []attr.Attribute{attr.New(mirrorPort, port), attr.New(mirrorSampler, port)}, store.ErrInvalidParameter},
		{"internal by caller", "mirror", []attr.Attribute{attr.New(mirrorPort, port), attr.New(mirrorShadow, port)}, store.ErrInvalidParameter},
		{"dangling handle", "mirror", []attr.Attribute{attr.New(mirrorPort, attr.Handle{Type: "port", ID: 999})}, store.ErrItemNotFound},
		{"wrong referenced type", "mirror", []attr.Attribute{attr.New(mirrorPort, attr.Handle{Type: "route", ID: 1})}, store.ErrInvalidParameter},
		{"label not utf-8", "port", []attr.Attribute{speed(1), attr.New(portLabel, attr.Text("a\xffb"))}, store.ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := s.Create(ctx, tt.typ, tt.attrs...)
			require.ErrorIs(t, err, tt.want)
			require.True(t, h.IsNull())
		})
	}
	require.Equal(t, 1, s.Count("port"))
	require.Zero(t, s.Count("mirror"))
}

func TestCreate_LatestWriteWins(t *testing.T) {
	s := setupStore(t)
	h := createPort(t, s, speed(400))

	v, err := s.Get(h, portSpeed)
	require.NoError(t, err)
	require.Equal(t, attr.U32(400), v)
}

func TestCreate_MonotonicHandles(t *testing.T) {
	s := setupStore(t)
	a := createPort(t, s)
	b := createPort(t, s)
	require.NoError(t, s.Delete(context.Background(), b))
	c := createPort(t, s)

	require.Equal(t, uint64(1), a.ID)
	require.Equal(t, uint64(2), b.ID)
	require.Equal(t, uint64(3), c.ID, "IDs are not reused")
}

func TestCreateWithID(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	h, err := s.CreateWithID(ctx, attr.Handle{Type: "port", ID: 10}, speed(1))
	require.NoError(t, err)
	require.Equal(t, attr.Handle{Type: "port", ID: 10}, h)

	_, err = s.CreateWithID(ctx, attr.Handle{Type: "port", ID: 10}, speed(1))
	require.ErrorIs(t, err, store.ErrItemAlreadyExists)

	_, err = s.CreateWithID(ctx, attr.Handle{Type: "port"}, speed(1))
	require.ErrorIs(t, err, store.ErrInvalidParameter)

	next := createPort(t, s)
	require.Equal(t, uint64(11), next.ID)
}

func TestCreate_TableFull(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.MaxObjectsPerType = 2
	s := store.New(loadSchema(t), cfg)

	createPort(t, s)
	createPort(t, s)
	_, err := s.Create(context.Background(), "port", speed(1))
	require.ErrorIs(t, err, store.ErrNoMemory)
}

// --- Referential Integrity Tests ---

func TestDelete_InternalReferenceExemption(t *testing.T) {
	port := func(id uint64) snapshot.Record {
		return snapshot.Record{
			Handle: attr.Handle{Type: "port", ID: id},
			Attrs:  []attr.Flat{{ID: portSpeed, Type: "u32", Items: []string{"100"}}},
		}
	}
	ref := func(id attr.ID, target string) attr.Flat {
		return attr.Flat{ID: id, Type: "handle", Items: []string{target}}
	}

	tests := []struct {
		name   string
		holder snapshot.Record
	}{
		{"internal object", snapshot.Record{
			Handle:   attr.Handle{Type: "mirror", ID: 1},
			Internal: true,
			Attrs:    []attr.Flat{ref(mirrorPort, "port:2")},
		}},
		{"read-only attribute", snapshot.Record{
			Handle: attr.Handle{Type: "mirror", ID: 1},
			Attrs:  []attr.Flat{ref(mirrorPort, "port:1"), ref(mirrorSampler, "port:2")},
		}},
		{"internal attribute", snapshot.Record{
			Handle: attr.Handle{Type: "mirror", ID: 1},
			Attrs:  []attr.Flat{ref(mirrorPort, "port:1"), ref(mirrorShadow, "port:2")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupStore(t)
			ctx := context.Background()
			require.NoError(t, s.Restore(ctx, snapshot.New([]snapshot.Record{port(1), port(2), tt.holder})))

			target := attr.Handle{Type: "port", ID: 2}
			require.Contains(t, s.Referrers(target, "mirror"), tt.holder.Handle)
			require.NoError(t, s.Delete(ctx, target))
			require.True(t, s.Exists(tt.holder.Handle))
		})
	}
}

func TestDelete_InternalCreateDoesNotBlock(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	target := createPort(t, s)

	m, err := s.CreateInternal(ctx, "mirror", attr.New(mirrorPort, target), attr.New(mirrorSampler, target))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, target))
	require.True(t, s.Exists(m))
}

func TestDelete_ListReferencesBlock(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := createPort(t, s)
	b := createPort(t, s)
	m := createMirror(t, s, a, attr.New(mirrorMonitor, attr.List[attr.Handle]{b, b}))

	require.ErrorIs(t, s.Delete(ctx, b), store.ErrResourceInUse)

	require.NoError(t, s.Set(ctx, m, attr.New(mirrorMonitor, attr.List[attr.Handle]{b})))
	require.ErrorIs(t, s.Delete(ctx, b), store.ErrResourceInUse)

	require.NoError(t, s.Set(ctx, m, attr.New(mirrorMonitor, attr.List[attr.Handle]{})))
	require.NoError(t, s.Delete(ctx, b))
}

func TestDelete_NotFound(t *testing.T) {
	s := setupStore(t)
	require.ErrorIs(t, s.Delete(context.Background(), attr.Handle{Type: "port", ID: 5}), store.ErrItemNotFound)
	require.ErrorIs(t, s.Delete(context.Background(), attr.Handle{Type: "vlan", ID: 5}), store.ErrInvalidParameter)
}

// --- Get / Set Tests ---

func TestGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s, lanes(0, 1, 2, 3))
	m, err := s.CreateInternal(ctx, "mirror", attr.New(mirrorPort, port), attr.New(mirrorShadow, port))
	require.NoError(t, err)

	v, err := s.Get(port, portLanes)
	require.NoError(t, err)
	require.Equal(t, "[0, 1, 2, 3]", v.String())
	v.(attr.List[attr.U32])[0] = 99
	again, _ := s.Get(port, portLanes)
	require.Equal(t, attr.U32(0), again.(attr.List[attr.U32])[0], "Get returns a copy")

	_, err = s.Get(port, portLabel)
	require.ErrorIs(t, err, store.ErrItemNotFound, "unset attribute")
	_, err = s.Get(port, 99)
	require.ErrorIs(t, err, store.ErrInvalidParameter)
	_, err = s.Get(m, mirrorShadow)
	require.ErrorIs(t, err, store.ErrInvalidParameter, "internal attributes cannot be read")
	_, err = s.Get(attr.Handle{Type: "port", ID: 42}, portSpeed)
	require.ErrorIs(t, err, store.ErrItemNotFound)

	visible, err := s.Attributes(m)
	require.NoError(t, err)
	require.False(t, visible.Has(mirrorShadow))
	full, err := s.Object(m)
	require.NoError(t, err)
	require.True(t, full.Attrs.Has(mirrorShadow))
	require.True(t, full.Internal)
}

func TestSet_Flags(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s, lanes(1), attr.New(portMTU, attr.U32(9100)))
	m := createMirror(t, s, port)

	tests := []struct {
		name string
		h    attr.Handle
		a    attr.Attribute
		want error
	}{
		{"create-only", port, lanes(2), store.ErrInvalidParameter},
		{"immutable", port, attr.New(portMTU, attr.U32(1500)), store.ErrInvalidParameter},
		{"read-only", m, attr.New(mirrorSampler, port), store.ErrInvalidParameter},
		{"internal", m, attr.New(mirrorShadow, port), store.ErrInvalidParameter},
		{"unknown attribute", port, attr.New(77, attr.U32(1)), store.ErrInvalidParameter},
		{"type mismatch", port, attr.New(portLabel, attr.U32(1)), attr.ErrTypeMismatch},
		{"deleted object", attr.Handle{Type: "port", ID: 99}, attr.New(portLabel, attr.Text("x")), store.ErrItemNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, s.Set(ctx, tt.h, tt.a), tt.want)
		})
	}

	mtu, err := s.Get(port, portMTU)
	require.NoError(t, err)
	require.Equal(t, attr.U32(9100), mtu)
}

func TestSet_ValidatesAllBeforeApplying(t *testing.T) {
	s := setupStore(t)
	port := createPort(t, s)

	err := s.Set(context.Background(), port,
		attr.New(portLabel, attr.Text("uplink")),
		lanes(4),
	)
	require.ErrorIs(t, err, store.ErrInvalidParameter)

	_, err = s.Get(port, portLabel)
	require.ErrorIs(t, err, store.ErrItemNotFound, "first attribute must not be applied")
}

func TestSet_ImmutableNeverSettable(t *testing.T) {
	s := setupStore(t)
	port := createPort(t, s)

	// mtu was not given at create and still cannot be set later.
	require.ErrorIs(t, s.Set(context.Background(), port, attr.New(portMTU, attr.U32(1500))), store.ErrInvalidParameter)
}

func TestSet_MovesReferences(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	p1 := createPort(t, s)
	p2 := createPort(t, s)
	m := createMirror(t, s, p1)

	require.NoError(t, s.Set(ctx, m, attr.New(mirrorPort, p2)))
	require.Empty(t, s.Referrers(p1, ""))
	require.Equal(t, []attr.Handle{m}, s.Referrers(p2, ""))
	require.NoError(t, s.Delete(ctx, p1))
	require.ErrorIs(t, s.Delete(ctx, p2), store.ErrResourceInUse)

	err := s.Set(ctx, m, attr.New(mirrorPort, p1))
	require.ErrorIs(t, err, store.ErrItemNotFound, "p1 is gone")
}

// --- Key Group Tests ---

func TestKeyGroup_Uniqueness(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	createPort(t, s, lanes(0, 1))
	_, err := s.Create(ctx, "port", speed(10), lanes(0, 1))
	require.ErrorIs(t, err, store.ErrItemAlreadyExists)

	createPort(t, s, lanes(1, 0))
	createPort(t, s, lanes(0, 1, 2))
	createPort(t, s)
	createPort(t, s)
	require.Equal(t, 5, s.Count("port"), "objects without the group attributes are not indexed")
}

func TestKeyGroup_Lookup(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	r, err := s.Create(ctx, "route", route("10.0.0.0/24", 1)...)
	require.NoError(t, err)

	got, err := s.LookupByKeyGroup("route", route("10.0.0.0/24", 1)...)
	require.NoError(t, err)
	require.Equal(t, r, got)

	_, err = s.LookupByKeyGroup("route", route("10.0.0.0/24", 2)...)
	require.ErrorIs(t, err, store.ErrItemNotFound)

	_, err = s.LookupByKeyGroup("route", route("10.0.0.0/24", 1)[0])
	require.ErrorIs(t, err, store.ErrInvalidKeyGroup, "subset of a group")

	_, err = s.LookupByKeyGroup("route", append(route("10.0.0.0/24", 1), attr.New(routeGateway, attr.IP(netip.MustParseAddr("10.0.0.1"))))...)
	require.ErrorIs(t, err, store.ErrInvalidKeyGroup, "superset of a group")

	_, err = s.LookupByKeyGroup("route", attr.New(routePrefix, attr.U32(1)), attr.New(routeVRF, attr.U32(1)))
	require.ErrorIs(t, err, store.ErrInvalidParameter)

	_, err = s.LookupByKeyGroup("vlan", route("10.0.0.0/24", 1)...)
	require.ErrorIs(t, err, store.ErrInvalidParameter)
}

func TestKeyGroup_ReindexOnSet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "route", route("10.0.0.0/24", 1)...)
	require.NoError(t, err)
	b, err := s.Create(ctx, "route", route("10.0.0.0/24", 2)...)
	require.NoError(t, err)

	require.ErrorIs(t, s.Set(ctx, a, attr.New(routeVRF, attr.U32(2))), store.ErrItemAlreadyExists)
	v, _ := s.Get(a, routeVRF)
	require.Equal(t, attr.U32(1), v, "rejected set leaves the value")

	require.NoError(t, s.Set(ctx, a, attr.New(routeVRF, attr.U32(3))))
	got, err := s.LookupByKeyGroup("route", route("10.0.0.0/24", 3)...)
	require.NoError(t, err)
	require.Equal(t, a, got)
	_, err = s.LookupByKeyGroup("route", route("10.0.0.0/24", 1)...)
	require.ErrorIs(t, err, store.ErrItemNotFound)

	require.NoError(t, s.Delete(ctx, b))
	_, err = s.Create(ctx, "route", route("10.0.0.0/24", 2)...)
	require.NoError(t, err, "deleting frees the key")
}

// --- Trigger Tests ---

func TestTriggers_RegistrationErrors(t *testing.T) {
	s := setupStore(t)
	tr := s.Triggers()

	require.ErrorIs(t, tr.OnAfterCreate("vlan", func(context.Context, attr.Handle, attr.Set) error { return nil }), store.ErrInvalidParameter)
	require.ErrorIs(t, tr.OnBeforeCreate("port", nil), store.ErrInvalidParameter)
	require.ErrorIs(t, tr.OnGetCounters("vlan", func(context.Context, attr.Handle) (store.Counters, error) { return nil, nil }), store.ErrInvalidParameter)
}

func TestTriggers_BeforeCreate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	var order []string

	require.NoError(t, s.Triggers().OnBeforeCreate("port", func(_ context.Context, _ attr.ObjectType, attrs *attr.Set) error {
		order = append(order, "first")
		attrs.Put(attr.New(portLabel, attr.Text("default")))
		return nil
	}))
	require.NoError(t, s.Triggers().OnBeforeCreate("port", func(_ context.Context, _ attr.ObjectType, attrs *attr.Set) error {
		order = append(order, "second")
		if v, ok := attrs.Get(portSpeed); ok && v == attr.U32(0) {
			return errors.New("speed 0 not supported by the SerDes")
		}
		return nil
	}))

	h := createPort(t, s)
	require.Equal(t, []string{"first", "second"}, order)
	label, err := s.Get(h, portLabel)
	require.NoError(t, err)
	require.Equal(t, attr.Text("default"), label)

	_, err = s.Create(ctx, "port", speed(0))
	require.Error(t, err)
	require.Equal(t, 1, s.Count("port"), "aborted create leaves nothing behind")
}

func TestTriggers_BeforeCreateResultIsValidated(t *testing.T) {
	s := setupStore(t)
	require.NoError(t, s.Triggers().OnBeforeCreate("port", func(_ context.Context, _ attr.ObjectType, attrs *attr.Set) error {
		attrs.Delete(portSpeed)
		return nil
	}))

	_, err := s.Create(context.Background(), "port", speed(1))
	require.ErrorIs(t, err, store.ErrInvalidParameter)
	require.Zero(t, s.Count("port"))
}

func TestTriggers_BeforeCreateMaySetSystemAttributes(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s)
	require.NoError(t, s.Triggers().OnBeforeCreate("mirror", func(_ context.Context, _ attr.ObjectType, attrs *attr.Set) error {
		target, _ := attrs.Get(mirrorPort)
		attrs.Put(attr.New(mirrorSampler, target))
		return nil
	}))

	h, err := s.Create(ctx, "mirror", attr.New(mirrorPort, port))
	require.NoError(t, err)
	sampler, err := s.Get(h, mirrorSampler)
	require.NoError(t, err)
	require.Equal(t, port, sampler)

	_, err = s.Create(ctx, "mirror", attr.New(mirrorPort, port), attr.New(mirrorSampler, port))
	require.ErrorIs(t, err, store.ErrInvalidParameter, "callers still cannot set read-only attributes")
	require.ErrorIs(t, s.Delete(ctx, port), store.ErrResourceInUse, "the mirror is not an internal object")
}

func TestTriggers_AfterCreateFailureRemovesObject(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s, lanes(7))
	require.NoError(t, s.Triggers().OnAfterCreate("mirror", func(context.Context, attr.Handle, attr.Set) error {
		return errors.New("session table full")
	}))

	h, err := s.Create(ctx, "mirror", attr.New(mirrorPort, port))
	require.Error(t, err)
	require.True(t, h.IsNull())
	require.Zero(t, s.Count("mirror"))
	require.Empty(t, s.Referrers(port, ""))
	require.NoError(t, s.Delete(ctx, port))
}

func TestTriggers_Update(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s)
	var seen []attr.Attribute

	require.NoError(t, s.Triggers().OnBeforeUpdate("port", func(_ context.Context, _ attr.Handle, a attr.Attribute) error {
		if a.ID == portAdmin {
			return errors.New("admin state locked")
		}
		return nil
	}))
	require.NoError(t, s.Triggers().OnAfterUpdate("port", func(_ context.Context, h attr.Handle, a attr.Attribute) error {
		require.Equal(t, port, h)
		seen = append(seen, a)
		return nil
	}))

	require.Error(t, s.Set(ctx, port, attr.New(portAdmin, attr.Bool(true))))
	_, err := s.Get(port, portAdmin)
	require.ErrorIs(t, err, store.ErrItemNotFound)

	require.NoError(t, s.Set(ctx, port, speed(400)))
	require.NoError(t, s.Set(ctx, port, speed(400)))
	require.Len(t, seen, 1, "no-op set runs no hooks")
	require.True(t, seen[0].Equal(speed(400)))
}

func TestTriggers_Delete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s)
	veto := true
	var deleted []attr.Handle

	require.NoError(t, s.Triggers().OnBeforeDelete("port", func(context.Context, attr.Handle, attr.Set) error {
		if veto {
			return errors.New("port is a member of a LAG")
		}
		return nil
	}))
	require.NoError(t, s.Triggers().OnAfterDelete("port", func(_ context.Context, h attr.Handle, attrs attr.Set) error {
		require.True(t, attrs.Has(portSpeed))
		deleted = append(deleted, h)
		return nil
	}))

	require.Error(t, s.Delete(ctx, port))
	require.True(t, s.Exists(port))

	mirror := createMirror(t, s, port)
	require.NoError(t, s.Delete(ctx, mirror), "a vetoed delete accepts new references again")

	veto = false
	require.NoError(t, s.Delete(ctx, port))
	require.Equal(t, []attr.Handle{port}, deleted)
}

func TestDelete_RefusesReferencesWhileDeleting(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s)
	other := createPort(t, s, lanes(9))
	holder := createMirror(t, s, other)

	entered := make(chan struct{})
	resume := make(chan struct{})
	require.NoError(t, s.Triggers().OnBeforeDelete("port", func(_ context.Context, h attr.Handle, _ attr.Set) error {
		if h == port {
			close(entered)
			<-resume
		}
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- s.Delete(ctx, port) }()
	<-entered

	_, err := s.Create(ctx, "mirror", attr.New(mirrorPort, port))
	require.ErrorIs(t, err, store.ErrItemNotFound)
	require.ErrorIs(t, s.Set(ctx, holder, attr.New(mirrorMonitor, attr.List[attr.Handle]{port})), store.ErrItemNotFound)

	close(resume)
	require.NoError(t, <-done)
	require.False(t, s.Exists(port))
	require.Equal(t, 1, s.Count("mirror"))
	require.Empty(t, s.Referrers(port, ""))
}

func TestTriggers_NestedCallsShareLocks(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s)

	require.NoError(t, s.Triggers().OnAfterCreate("mirror", func(ctx context.Context, h attr.Handle, attrs attr.Set) error {
		return s.Set(ctx, h, attr.New(mirrorMode, attr.Enum(2)))
	}))

	done := make(chan error, 1)
	go func() {
		_, err := s.Create(ctx, "mirror", attr.New(mirrorPort, port))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("hook calling back into the store deadlocked")
	}
}

// --- Lock Tests ---

func TestLock_NeedsOwner(t *testing.T) {
	s := setupStore(t)
	port := createPort(t, s)

	require.ErrorIs(t, s.Lock(context.Background(), port), store.ErrInvalidParameter)
	_, err := s.TryLock(context.Background(), port)
	require.ErrorIs(t, err, store.ErrInvalidParameter)
	require.ErrorIs(t, s.Unlock(context.Background(), port), store.ErrInvalidParameter)
}

func TestLock_Reentrant(t *testing.T) {
	s := setupStore(t)
	port := createPort(t, s)
	alice := store.WithLockOwner(context.Background(), store.NewLockOwner())
	bob := store.WithLockOwner(context.Background(), store.NewLockOwner())

	require.NoError(t, s.Lock(alice, port))
	ok, err := s.TryLock(alice, port)
	require.NoError(t, err)
	require.True(t, ok, "owner re-enters its lock")

	ok, err = s.TryLock(bob, port)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(alice, port, attr.New(portLabel, attr.Text("a"))), "holder may mutate")

	short, cancel := context.WithTimeout(bob, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Set(short, port, attr.New(portLabel, attr.Text("b"))), context.DeadlineExceeded)

	require.NoError(t, s.Unlock(alice, port))
	ok, _ = s.TryLock(bob, port)
	require.False(t, ok, "one level still held")
	require.NoError(t, s.Unlock(alice, port))

	ok, err = s.TryLock(bob, port)
	require.NoError(t, err)
	require.True(t, ok)
	require.ErrorIs(t, s.Unlock(alice, port), store.ErrFailure, "alice no longer holds it")
	require.NoError(t, s.Unlock(bob, port))
}

func TestLock_WaitsForRelease(t *testing.T) {
	s := setupStore(t)
	port := createPort(t, s)
	alice := store.WithLockOwner(context.Background(), store.NewLockOwner())
	bob := store.WithLockOwner(context.Background(), store.NewLockOwner())
	require.NoError(t, s.Lock(alice, port))

	var wg sync.WaitGroup
	wg.Add(1)
	got := make(chan error, 1)
	go func() {
		defer wg.Done()
		got <- s.Lock(bob, port)
	}()

	select {
	case <-got:
		t.Fatal("bob acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, s.Unlock(alice, port))
	wg.Wait()
	require.NoError(t, <-got)
	require.NoError(t, s.Unlock(bob, port))
}

func TestLock_MissingObject(t *testing.T) {
	s := setupStore(t)
	ctx := store.WithLockOwner(context.Background(), store.NewLockOwner())
	require.ErrorIs(t, s.Lock(ctx, attr.Handle{Type: "port", ID: 1}), store.ErrItemNotFound)
}

// --- Counter Tests ---

func TestCounters_NotSupported(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s)
	m := createMirror(t, s, port)

	_, err := s.Counters(ctx, m)
	require.ErrorIs(t, err, store.ErrNotSupported, "mirror carries no counters")
	_, err = s.Counters(ctx, port)
	require.ErrorIs(t, err, store.ErrNotSupported, "no handler registered")
	_, err = s.Counters(ctx, attr.Handle{Type: "port", ID: 50})
	require.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestCounters_DirtyAndWrap(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	raw := store.Counters{1: math.MaxUint64 - 5, 2: 100}
	require.NoError(t, s.Triggers().OnGetCounters("port", func(context.Context, attr.Handle) (store.Counters, error) {
		return raw, nil
	}))
	port := createPort(t, s)

	got, err := s.Counters(ctx, port)
	require.NoError(t, err)
	require.Equal(t, raw, got, "never cleared")

	require.NoError(t, s.ClearCounters(ctx, port, 1))
	got, err = s.Counters(ctx, port)
	require.NoError(t, err)
	require.Equal(t, store.Counters{1: 0, 2: 100}, got, "only the cleared id reads zero")

	raw = store.Counters{1: 10, 2: 150}
	got, err = s.Counters(ctx, port)
	require.NoError(t, err)
	require.Equal(t, store.Counters{1: 16, 2: 150}, got, "wraparound keeps the delta")

	require.NoError(t, s.ClearAllCounters(ctx, port))
	got, err = s.Counters(ctx, port)
	require.NoError(t, err)
	require.Equal(t, store.Counters{1: 0, 2: 0}, got)

	require.NoError(t, s.ClearCounters(ctx, port, 1, 2))
	raw = store.Counters{1: 30}
	got, err = s.Counters(ctx, port)
	require.NoError(t, err)
	require.Equal(t, store.Counters{1: 0}, got)

	raw = store.Counters{1: 35, 2: 240}
	got, err = s.Counters(ctx, port)
	require.NoError(t, err)
	require.Equal(t, store.Counters{1: 5, 2: 0}, got, "a clear stays pending for a counter missing from a read")
}

func TestCounters_ClearHandlerCalled(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	var cleared []store.CounterID
	require.NoError(t, s.Triggers().OnClearCounters("port", func(_ context.Context, _ attr.Handle, ids []store.CounterID) error {
		cleared = append(cleared, ids...)
		return nil
	}))
	broken := errors.New("hardware timeout")
	require.NoError(t, s.Triggers().OnClearAllCounters("port", func(context.Context, attr.Handle) error {
		return broken
	}))
	port := createPort(t, s)

	require.NoError(t, s.ClearCounters(ctx, port, 3, 4))
	require.Equal(t, []store.CounterID{3, 4}, cleared)
	require.ErrorIs(t, s.ClearAllCounters(ctx, port), broken)
}

// --- Enumeration Tests ---

func TestNextHandles(t *testing.T) {
	s := setupStore(t)
	for range 5 {
		createPort(t, s)
	}

	page := s.NextHandles("port", 0, 2)
	require.Equal(t, []attr.Handle{{Type: "port", ID: 1}, {Type: "port", ID: 2}}, page)

	rest := s.NextHandles("port", page[len(page)-1].ID, -1)
	require.Len(t, rest, 3)
	require.Equal(t, uint64(3), rest[0].ID)

	require.Empty(t, s.NextHandles("port", 5, 10))
	require.Nil(t, s.NextHandles("vlan", 0, 10))
	require.Equal(t, s.NextHandles("port", 0, -1), s.Handles("port"))
}

func TestFlushAll(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	deleted := 0
	require.NoError(t, s.Triggers().OnBeforeDelete("port", func(context.Context, attr.Handle, attr.Set) error {
		deleted++
		return nil
	}))
	port := createPort(t, s, lanes(1))
	createMirror(t, s, port)

	s.FlushAll(ctx)

	require.Zero(t, s.Count("port"))
	require.Zero(t, s.Count("mirror"))
	require.Zero(t, deleted, "flush runs no hooks")
	again := createPort(t, s, lanes(1))
	require.Equal(t, uint64(1), again.ID, "allocation restarts and keys are free")
}

// --- Persistence Tests ---

// populate builds cross-referencing ports and mirrors using every value kind
// the schema declares.
func populate(t *testing.T, s *store.Store, n int) {
	t.Helper()
	ctx := context.Background()
	var ports []attr.Handle
	for i := range n {
		ports = append(ports, createPort(t, s,
			lanes(uint32(4*i), uint32(4*i+1)),
			attr.New(portLabel, attr.Text("Ethernet"+strconv.Itoa(i))),
			attr.New(portMAC, attr.MAC{0x00, 0x11, 0x22, 0x33, 0x44, byte(i)}),
			attr.New(portAdmin, attr.Bool(i%2 == 0)),
		))
	}
	for i := range n {
		createMirror(t, s, ports[i],
			attr.New(mirrorMonitor, attr.List[attr.Handle]{ports[(i+1)%n], ports[(i+2)%n]}),
			attr.New(mirrorMode, attr.Enum(i%3)),
			attr.New(mirrorVLANs, attr.List[attr.U16]{10, 20, attr.U16(i)}),
		)
	}
	_, err := s.CreateInternal(ctx, "mirror", attr.New(mirrorPort, ports[0]), attr.New(mirrorShadow, ports[1]))
	require.NoError(t, err)
	_, err = s.Create(ctx, "route", append(route("2001:db8::/32", 7),
		attr.New(routeNextHop, ports[0]),
		attr.New(routeGateway, attr.IP(netip.MustParseAddr("2001:db8::1"))),
		attr.New(routeL4, attr.Range{Min: 1024, Max: 65535}),
	)...)
	require.NoError(t, err)
}

func requireSameObjects(t *testing.T, want, got *store.Store) {
	t.Helper()
	for _, typ := range want.Schema().Types() {
		require.Equal(t, want.Handles(typ), got.Handles(typ), "handles of %s", typ)
		for _, h := range want.Handles(typ) {
			a, err := want.Object(h)
			require.NoError(t, err)
			b, err := got.Object(h)
			require.NoError(t, err)
			require.True(t, a.Attrs.Equal(b.Attrs), "%s: %s != %s", h, a.Attrs, b.Attrs)
			require.Equal(t, a.Internal, b.Internal, "%s internal flag", h)
		}
	}
}

func TestDumpReplay_SQLite(t *testing.T) {
	src := setupStore(t)
	populate(t, src, 8)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warm.db")
	require.NoError(t, src.Set(ctx, attr.Handle{Type: "port", ID: 2}, attr.New(portLabel, attr.Text("uplink ポート, \"spine\""))))

	require.NoError(t, src.Dump(ctx, path))

	dst := setupStore(t)
	require.NoError(t, dst.Replay(ctx, "sqlite://"+path))
	requireSameObjects(t, src, dst)

	p1 := attr.Handle{Type: "port", ID: 1}
	require.ErrorIs(t, dst.Delete(ctx, p1), store.ErrResourceInUse, "reference index is rebuilt")
	_, err := dst.LookupByKeyGroup("route", route("2001:db8::/32", 7)...)
	require.NoError(t, err, "key index is rebuilt")
	_, err = dst.Create(ctx, "port", speed(1), lanes(0, 1))
	require.ErrorIs(t, err, store.ErrItemAlreadyExists)

	next := createPort(t, dst)
	require.Equal(t, uint64(9), next.ID, "allocation continues after replayed IDs")
}

func TestReplay_NeedsEmptyStore(t *testing.T) {
	src := setupStore(t)
	populate(t, src, 2)
	snap, err := src.Snapshot()
	require.NoError(t, err)

	require.ErrorIs(t, src.Restore(context.Background(), snap), store.ErrInvalidParameter)
	require.Equal(t, 2, src.Count("port"), "existing objects are kept")
}

func TestReplay_MissingDump(t *testing.T) {
	s := setupStore(t)
	err := s.Replay(context.Background(), filepath.Join(t.TempDir(), "none.db"))
	require.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestRestore_RejectsDanglingReference(t *testing.T) {
	s := setupStore(t)
	snap := snapshot.New([]snapshot.Record{
		{Handle: attr.Handle{Type: "port", ID: 1}, Attrs: []attr.Flat{{ID: 1, Type: "u32", Items: []string{"100"}}}},
		{Handle: attr.Handle{Type: "mirror", ID: 1}, Attrs: []attr.Flat{{ID: 1, Type: "handle", Items: []string{"port:2"}}}},
	})

	require.ErrorIs(t, s.Restore(context.Background(), snap), store.ErrItemNotFound)
	require.Zero(t, s.Count("port"), "nothing is installed")
}

func TestRestore_RejectsBadRecords(t *testing.T) {
	tests := []struct {
		name   string
		record snapshot.Record
		want   error
	}{
		{"unknown type", snapshot.Record{Handle: attr.Handle{Type: "vlan", ID: 1}}, store.ErrInvalidParameter},
		{"null handle", snapshot.Record{Handle: attr.Handle{Type: "port"}}, store.ErrInvalidParameter},
		{"wrong attribute type", snapshot.Record{
			Handle: attr.Handle{Type: "port", ID: 1},
			Attrs:  []attr.Flat{{ID: 1, Type: "u16", Items: []string{"1"}}},
		}, attr.ErrTypeMismatch},
		{"bad value", snapshot.Record{
			Handle: attr.Handle{Type: "port", ID: 1},
			Attrs:  []attr.Flat{{ID: 1, Type: "u32", Items: []string{"fast"}}},
		}, store.ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupStore(t)
			err := s.Restore(context.Background(), snapshot.New([]snapshot.Record{tt.record}))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDependencyOrder(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	port := createPort(t, s)
	a := createMirror(t, s, port)
	b := createMirror(t, s, port)
	require.NoError(t, s.Set(ctx, a, attr.New(mirrorMonitor, attr.List[attr.Handle]{b})))

	require.Equal(t, []attr.Handle{port, b, a}, s.DependencyOrder())

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, []attr.Handle{port, b, a}, snap.Handles())
	for i, r := range snap.Records {
		require.Equal(t, i, r.Seq)
	}
}
