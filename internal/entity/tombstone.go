package entity

// Tombstone requests removal of the document with TargetID. Queued under the
// same key as the entity it removes, it supersedes a pending upsert.
type Tombstone struct {
	TargetID string
}

// Delete returns a tombstone for e.
func Delete(e Entity) *Tombstone {
	return &Tombstone{TargetID: e.ID()}
}

func (t *Tombstone) ID() string { return t.TargetID }
func (*Tombstone) Kind() Kind   { return KindTombstone }
func (*Tombstone) sealed()      {}
