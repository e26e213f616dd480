// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keystore holds the secure content model of a package: consumers,
// resource data groups sharing one content key, the access rights that let
// consumers recover that key, and per-part encryption parameters.
package keystore

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/lemon4ksan/opcpack/opc"
)

// Well-known names of the key store part.
const (
	Namespace        = "http://schemas.microsoft.com/3dmanufacturing/securecontent/2019/04"
	XMLEncNamespace  = "http://www.w3.org/2001/04/xmlenc#"
	ContentType      = "application/vnd.ms-package.3dmanufacturing-keystore+xml"
	RelationshipType = "http://schemas.microsoft.com/3dmanufacturing/2019/07/keystore"
	DefaultPartName  = "/Secure/keystore.xml"
	MaxElements      = math.MaxInt32

	EncryptedFileRelationshipType = "http://schemas.openxmlformats.org/package/2006/relationships/encryptedfile"
)

// Consumer is a party able to unwrap content keys.
type Consumer struct {
	ID       string
	KeyID    string
	KeyValue string
}

// AccessRight lets one consumer recover the key of a group. The consumer is
// referenced by id. Values handed out by a group are snapshots; change the
// wrapped key with SetCipherValue.
type AccessRight struct {
	ConsumerID  string
	Params      KEKParams
	CipherValue []byte // Wrapped key, empty until the first wrap
}

func (ar *AccessRight) clone() *AccessRight {
	c := *ar
	c.CipherValue = slices.Clone(ar.CipherValue)
	return &c
}

// Metadata is a namespaced name/value pair attached to a group.
type Metadata struct {
	Namespace string
	Name      string
	Value     string
}

// ResourceDataGroup shares one content key between a set of parts. The key
// is never persisted; only the access rights wrapping it are.
type ResourceDataGroup struct {
	mu           sync.Mutex
	keyUUID      uuid.UUID
	accessRights []*AccessRight
	metadata     []Metadata
	key          []byte
}

// KeyUUID identifies the group and its content key.
func (g *ResourceDataGroup) KeyUUID() uuid.UUID { return g.keyUUID }

// AccessRights returns copies of the group's access rights in declaration
// order.
func (g *ResourceDataGroup) AccessRights() []*AccessRight {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*AccessRight, len(g.accessRights))
	for i, ar := range g.accessRights {
		out[i] = ar.clone()
	}
	return out
}

// FindAccessRight returns a copy of the access right of a consumer.
func (g *ResourceDataGroup) FindAccessRight(consumerID string) (*AccessRight, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ar, ok := g.findAccessRight(consumerID)
	if !ok {
		return nil, false
	}
	return ar.clone(), true
}

func (g *ResourceDataGroup) findAccessRight(consumerID string) (*AccessRight, bool) {
	for _, ar := range g.accessRights {
		if ar.ConsumerID == consumerID {
			return ar, true
		}
	}
	return nil, false
}

// Key returns a copy of the in-memory content key, or nil if unknown.
func (g *ResourceDataGroup) Key() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.key)
}

// SetKey replaces the in-memory content key.
func (g *ResourceDataGroup) SetKey(key []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.key = slices.Clone(key)
}

// SetCipherValue stores the wrapped key of a consumer's access right.
func (g *ResourceDataGroup) SetCipherValue(consumerID string, wrapped []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ar, ok := g.findAccessRight(consumerID)
	if !ok {
		return fmt.Errorf("%w: %s has no access right in %s", ErrConsumerNotFound, consumerID, g.keyUUID)
	}
	ar.CipherValue = slices.Clone(wrapped)
	return nil
}

// AddMetadata attaches custom namespaced metadata.
func (g *ResourceDataGroup) AddMetadata(m Metadata) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metadata = append(g.metadata, m)
}

// Metadata returns the custom metadata of the group.
func (g *ResourceDataGroup) Metadata() []Metadata {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.metadata)
}

// ResourceData carries the encryption parameters of one part. The owning
// group is referenced by its key UUID. Records returned by the store are
// snapshots; change parameters with SetResourceParams.
type ResourceData struct {
	Path       string
	GroupUUID  uuid.UUID
	Params     CEKParams
	Descriptor uint64 // Opaque handle passed to the content crypto callback
}

func (rd *ResourceData) clone() *ResourceData {
	c := *rd
	c.Params = rd.Params.clone()
	return &c
}

// KeyStore owns the secure content model. A single mutex serializes every
// mutation and lookup.
type KeyStore struct {
	mu             sync.Mutex
	uuid           uuid.UUID
	consumers      []*Consumer
	consumerIndex  map[string]*Consumer
	groups         []*ResourceDataGroup
	groupIndex     map[uuid.UUID]*ResourceDataGroup
	resources      []*ResourceData
	resourceIndex  map[string]*ResourceData
	nextDescriptor uint64
}

// New creates an empty key store with a random UUID.
func New() *KeyStore {
	return &KeyStore{
		uuid:           uuid.New(),
		consumerIndex:  make(map[string]*Consumer),
		groupIndex:     make(map[uuid.UUID]*ResourceDataGroup),
		resourceIndex:  make(map[string]*ResourceData),
		nextDescriptor: 1,
	}
}

// UUID returns the key store UUID.
func (ks *KeyStore) UUID() uuid.UUID {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.uuid
}

// SetUUID replaces the key store UUID.
func (ks *KeyStore) SetUUID(id uuid.UUID) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.uuid = id
}

// Empty reports whether the store holds no consumers, groups or resources.
func (ks *KeyStore) Empty() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return len(ks.consumers) == 0 && len(ks.groups) == 0 && len(ks.resources) == 0
}

func (ks *KeyStore) elementCount() int {
	return len(ks.consumers) + len(ks.groups) + len(ks.resources)
}

// AddConsumer registers a consumer. Ids are unique within the store.
func (ks *KeyStore) AddConsumer(id, keyID, keyValue string) (*Consumer, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty consumer id", ErrInvalidConsumer)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.consumerIndex[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConsumer, id)
	}
	if ks.elementCount() >= MaxElements {
		return nil, ErrTooManyElements
	}

	c := &Consumer{ID: id, KeyID: keyID, KeyValue: keyValue}
	ks.consumers = append(ks.consumers, c)
	ks.consumerIndex[id] = c
	return c, nil
}

// FindConsumer looks up a consumer by id.
func (ks *KeyStore) FindConsumer(id string) (*Consumer, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	c, ok := ks.consumerIndex[id]
	return c, ok
}

// Consumers returns the consumers in declaration order.
func (ks *KeyStore) Consumers() []*Consumer {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return slices.Clone(ks.consumers)
}

// RemoveConsumer deletes a consumer and revokes its access right in every group.
func (ks *KeyStore) RemoveConsumer(id string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.consumerIndex[id]; !ok {
		return fmt.Errorf("%w: %s", ErrConsumerNotFound, id)
	}
	delete(ks.consumerIndex, id)
	ks.consumers = slices.DeleteFunc(ks.consumers, func(c *Consumer) bool { return c.ID == id })

	for _, g := range ks.groups {
		g.mu.Lock()
		g.accessRights = slices.DeleteFunc(g.accessRights, func(ar *AccessRight) bool { return ar.ConsumerID == id })
		g.mu.Unlock()
	}
	return nil
}

// AddResourceDataGroup creates a group. A nil UUID gets a random one.
func (ks *KeyStore) AddResourceDataGroup(keyUUID uuid.UUID) (*ResourceDataGroup, error) {
	if keyUUID == uuid.Nil {
		keyUUID = uuid.New()
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.groupIndex[keyUUID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGroup, keyUUID)
	}
	if ks.elementCount() >= MaxElements {
		return nil, ErrTooManyElements
	}

	g := &ResourceDataGroup{keyUUID: keyUUID}
	ks.groups = append(ks.groups, g)
	ks.groupIndex[keyUUID] = g
	return g, nil
}

// FindResourceDataGroup looks up a group by key UUID.
func (ks *KeyStore) FindResourceDataGroup(keyUUID uuid.UUID) (*ResourceDataGroup, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	g, ok := ks.groupIndex[keyUUID]
	return g, ok
}

// ResourceDataGroups returns the groups in declaration order.
func (ks *KeyStore) ResourceDataGroups() []*ResourceDataGroup {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return slices.Clone(ks.groups)
}

// RemoveResourceDataGroup deletes a group together with its resource data.
func (ks *KeyStore) RemoveResourceDataGroup(keyUUID uuid.UUID) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.groupIndex[keyUUID]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, keyUUID)
	}
	delete(ks.groupIndex, keyUUID)
	ks.groups = slices.DeleteFunc(ks.groups, func(g *ResourceDataGroup) bool { return g.keyUUID == keyUUID })
	ks.resources = slices.DeleteFunc(ks.resources, func(rd *ResourceData) bool {
		if rd.GroupUUID == keyUUID {
			delete(ks.resourceIndex, rd.Path)
			return true
		}
		return false
	})
	return nil
}

// AddAccessRight grants a consumer access to a group's key. Only one access
// right may exist per (group, consumer) pair.
func (ks *KeyStore) AddAccessRight(keyUUID uuid.UUID, consumerID string, params KEKParams) (*AccessRight, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	g, ok := ks.groupIndex[keyUUID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, keyUUID)
	}
	if _, ok := ks.consumerIndex[consumerID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrConsumerNotFound, consumerID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.findAccessRight(consumerID); dup {
		return nil, fmt.Errorf("%w: consumer %s in group %s", ErrDuplicateAccessRight, consumerID, keyUUID)
	}

	ar := &AccessRight{ConsumerID: consumerID, Params: params}
	g.accessRights = append(g.accessRights, ar)
	return ar.clone(), nil
}

// RemoveAccessRight revokes a consumer's access to a group's key.
func (ks *KeyStore) RemoveAccessRight(keyUUID uuid.UUID, consumerID string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	g, ok := ks.groupIndex[keyUUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, keyUUID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	before := len(g.accessRights)
	g.accessRights = slices.DeleteFunc(g.accessRights, func(ar *AccessRight) bool { return ar.ConsumerID == consumerID })
	if len(g.accessRights) == before {
		return fmt.Errorf("%w: %s has no access right in %s", ErrConsumerNotFound, consumerID, keyUUID)
	}
	return nil
}

// AddResourceData declares a part as encrypted with the key of a group.
// Each path may carry at most one record.
func (ks *KeyStore) AddResourceData(keyUUID uuid.UUID, path string, params CEKParams) (*ResourceData, error) {
	if keyUUID == uuid.Nil {
		return nil, ErrMissingGroup
	}
	partName, err := opc.NormalizePartName(path)
	if err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.groupIndex[keyUUID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingGroup, keyUUID)
	}
	if _, ok := ks.resourceIndex[partName]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateResourceData, partName)
	}
	if ks.elementCount() >= MaxElements {
		return nil, ErrTooManyElements
	}

	rd := &ResourceData{
		Path:       partName,
		GroupUUID:  keyUUID,
		Params:     params.clone(),
		Descriptor: ks.nextDescriptor,
	}
	ks.nextDescriptor++
	ks.resources = append(ks.resources, rd)
	ks.resourceIndex[partName] = rd
	return rd.clone(), nil
}

// FindResourceData returns a copy of the record of a part.
func (ks *KeyStore) FindResourceData(path string) (*ResourceData, bool) {
	partName, err := opc.NormalizePartName(path)
	if err != nil {
		return nil, false
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	rd, ok := ks.resourceIndex[partName]
	if !ok {
		return nil, false
	}
	return rd.clone(), true
}

// FindResourceDataGroupByPath returns the group owning a part's record.
func (ks *KeyStore) FindResourceDataGroupByPath(path string) (*ResourceDataGroup, bool) {
	rd, ok := ks.FindResourceData(path)
	if !ok {
		return nil, false
	}
	return ks.FindResourceDataGroup(rd.GroupUUID)
}

// SetResourceParams replaces the encryption parameters of a part's record.
func (ks *KeyStore) SetResourceParams(path string, params CEKParams) error {
	partName, err := opc.NormalizePartName(path)
	if err != nil {
		return err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	rd, ok := ks.resourceIndex[partName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrResourceDataNotFound, partName)
	}
	rd.Params = params.clone()
	return nil
}

// ResourceData returns copies of every record in declaration order.
func (ks *KeyStore) ResourceData() []*ResourceData {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	out := make([]*ResourceData, len(ks.resources))
	for i, rd := range ks.resources {
		out[i] = rd.clone()
	}
	return out
}

// ResourceDataByGroup returns the records belonging to a group.
func (ks *KeyStore) ResourceDataByGroup(keyUUID uuid.UUID) []*ResourceData {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	var out []*ResourceData
	for _, rd := range ks.resources {
		if rd.GroupUUID == keyUUID {
			out = append(out, rd.clone())
		}
	}
	return out
}

// RemoveResourceData deletes the record of a part.
func (ks *KeyStore) RemoveResourceData(path string) error {
	partName, err := opc.NormalizePartName(path)
	if err != nil {
		return err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.resourceIndex[partName]; !ok {
		return fmt.Errorf("%w: %s", ErrResourceDataNotFound, partName)
	}
	delete(ks.resourceIndex, partName)
	ks.resources = slices.DeleteFunc(ks.resources, func(rd *ResourceData) bool { return rd.Path == partName })
	return nil
}
