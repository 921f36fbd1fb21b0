package scene

import "sync"

// AttributeDescriptor describes one attribute slot of a placeholder
// component type, as carried by a RegisterComponentType wire message.
type AttributeDescriptor struct {
	Index uint8
	Type  AttributeType
	Name  string
}

// TypeDescriptor fully describes a component type registered dynamically
// by a peer that doesn't have a native factory for it.
type TypeDescriptor struct {
	TypeId     TypeId
	TypeName   string
	Attributes []AttributeDescriptor
}

// TypeRegistry resolves TypeId/name to either a native factory or a
// dynamically-registered placeholder descriptor, and records which
// descriptors have already been seen so received-from-peer descriptors
// are never echoed back to their sender.
//
// Scoped per registry instance rather than as a package-level global; the
// SyncManager holds one instance shared by all of its connections, and mu
// guards that shared placeholder type state against concurrent access.
type TypeRegistry struct {
	mu           sync.RWMutex
	native       map[string]TypeId
	nativeAttrs  map[TypeId][]AttributeDescriptor
	placeholders map[TypeId]TypeDescriptor
	seen         map[TypeId]bool
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		native:       make(map[string]TypeId),
		nativeAttrs:  make(map[TypeId][]AttributeDescriptor),
		placeholders: make(map[TypeId]TypeDescriptor),
		seen:         make(map[TypeId]bool),
	}
}

// RegisterNative records that typeName has a native, statically-compiled
// factory with the given static attribute layout — descriptors for it
// received from peers are acknowledged but otherwise ignored. attrs lets a
// full-component-update decoder reconstruct a native component's static
// attribute slots, which (unlike a placeholder's) never travel the wire as
// a RegisterComponentType descriptor.
func (r *TypeRegistry) RegisterNative(typeName string, id TypeId, attrs []AttributeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.native[typeName] = id
	r.nativeAttrs[id] = attrs
}

// Describe resolves typeId to its full static-attribute schema, whether it
// belongs to a native factory or a dynamically-registered placeholder,
// returning false if typeId is unknown to this registry.
func (r *TypeRegistry) Describe(id TypeId) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if attrs, ok := r.nativeAttrs[id]; ok {
		name := ""
		for n, tid := range r.native {
			if tid == id {
				name = n
				break
			}
		}
		return TypeDescriptor{TypeId: id, TypeName: name, Attributes: attrs}, true
	}
	if d, ok := r.placeholders[id]; ok {
		return d, true
	}
	return TypeDescriptor{}, false
}

func (r *TypeRegistry) HasNative(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.native[typeName]
	return ok
}

// ApplyDescriptor processes an inbound RegisterComponentType descriptor.
// Returns true if a new placeholder type was registered (false if the
// type was already known, native or otherwise).
func (r *TypeRegistry) ApplyDescriptor(desc TypeDescriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[desc.TypeId] {
		return false
	}
	r.seen[desc.TypeId] = true

	if _, native := r.native[desc.TypeName]; native {
		return false
	}
	r.placeholders[desc.TypeId] = desc
	return true
}

// ShouldEchoToPeer reports whether a locally-originated registration for
// typeId should be announced to peers — false once a descriptor for that
// type has already been recorded as seen (received or self-registered),
// so a client never echoes a descriptor it received from its server.
func (r *TypeRegistry) ShouldEchoToPeer(typeId TypeId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.seen[typeId]
}

// MarkAnnounced records that typeId's descriptor has now been sent to at
// least one peer, so a subsequent ApplyDescriptor of the same type (e.g.
// looped back by a relay) is recognized as already-seen.
func (r *TypeRegistry) MarkAnnounced(typeId TypeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[typeId] = true
}

func (r *TypeRegistry) Placeholder(id TypeId) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.placeholders[id]
	return d, ok
}

// AllPlaceholders returns every dynamically-registered placeholder
// descriptor currently known, for announcing the full set to a newly
// connected peer.
func (r *TypeRegistry) AllPlaceholders() []TypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeDescriptor, 0, len(r.placeholders))
	for _, d := range r.placeholders {
		out = append(out, d)
	}
	return out
}
