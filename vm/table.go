package vm

// ---------------------------------------------------------------------------
// Table: open-addressed hash table from values to values
// ---------------------------------------------------------------------------

// tableMaxLoad is the load factor threshold that triggers a capacity grow.
const tableMaxLoad = 0.75

// TableEntry is one slot of a table. An empty slot has a kwargs key and a
// None value; a tombstone has a kwargs key and a True value so that probe
// chains across deleted entries remain intact.
type TableEntry struct {
	Key   Value
	Value Value
}

// Table is an open-addressed, linearly probed hash table mapping values to
// values. Capacity is always a power of two. Keys may be any hashable value;
// the kwargs sentinel is reserved for the empty/tombstone protocol and can
// never be stored by managed code.
type Table struct {
	count   int // live entries plus tombstones
	entries []TableEntry
}

// Count returns the number of live entries.
func (t *Table) Count() int {
	n := 0
	for i := range t.entries {
		if !t.entries[i].Key.IsKwargs() {
			n++
		}
	}
	return n
}

// Capacity returns the current slot count.
func (t *Table) Capacity() int { return len(t.entries) }

// Reset empties the table, releasing its storage.
func (t *Table) Reset() {
	t.count = 0
	t.entries = nil
}

// findEntry locates the slot for key: either the entry holding it, or the
// slot where it should be inserted (reusing the first tombstone seen so
// deleted slots are reclaimed).
func findEntry(entries []TableEntry, key Value) *TableEntry {
	index := int(HashValue(key)) & (len(entries) - 1)
	var tombstone *TableEntry
	for {
		entry := &entries[index]
		if entry.Key.IsKwargs() {
			if entry.Value.IsNone() {
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if ValuesEqual(entry.Key, key) {
			return entry
		}
		index = (index + 1) & (len(entries) - 1)
	}
}

// AdjustCapacity rebuilds the table at the given power-of-two capacity,
// re-inserting every live entry and discarding tombstones.
func (t *Table) AdjustCapacity(capacity int) {
	entries := make([]TableEntry, capacity)
	for i := range entries {
		entries[i] = TableEntry{Key: KwargsVal(0), Value: NoneVal()}
	}
	t.count = 0
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key.IsKwargs() {
			continue
		}
		dest := findEntry(entries, entry.Key)
		dest.Key = entry.Key
		dest.Value = entry.Value
		t.count++
	}
	t.entries = entries
}

// Set stores value under key, returning true iff the key was not previously
// present.
func (t *Table) Set(key, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		capacity := growCapacity(len(t.entries))
		t.AdjustCapacity(capacity)
	}
	entry := findEntry(t.entries, key)
	isNew := entry.Key.IsKwargs()
	if isNew && entry.Value.IsNone() {
		t.count++
	}
	entry.Key = key
	entry.Value = value
	return isNew
}

// Get retrieves the value stored under key.
func (t *Table) Get(key Value) (Value, bool) {
	if t.count == 0 {
		return NoneVal(), false
	}
	entry := findEntry(t.entries, key)
	if entry.Key.IsKwargs() {
		return NoneVal(), false
	}
	return entry.Value, true
}

// Delete removes key, leaving a tombstone so later probes still find entries
// inserted past it.
func (t *Table) Delete(key Value) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.Key.IsKwargs() {
		return false
	}
	entry.Key = KwargsVal(0)
	entry.Value = BoolVal(true)
	return true
}

// AddAll copies every live entry of t into to.
func (t *Table) AddAll(to *Table) {
	for i := range t.entries {
		entry := &t.entries[i]
		if !entry.Key.IsKwargs() {
			to.Set(entry.Key, entry.Value)
		}
	}
}

// Each walks the live entries in slot order, skipping empty slots and
// tombstones. The callback must not mutate the table.
func (t *Table) Each(fn func(key, value Value)) {
	for i := range t.entries {
		entry := &t.entries[i]
		if !entry.Key.IsKwargs() {
			fn(entry.Key, entry.Value)
		}
	}
}

// FindString looks up an interned string by bytes and hash without
// allocating. Only used against the VM's strings table, whose keys are all
// strings.
func (t *Table) FindString(chars string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}
	index := int(hash) & (len(t.entries) - 1)
	for {
		entry := &t.entries[index]
		if entry.Key.IsKwargs() {
			if entry.Value.IsNone() {
				return nil
			}
		} else if s, ok := entry.Key.AsObj().(*String); ok {
			if s.Hash == hash && s.Chars == chars {
				return s
			}
		}
		index = (index + 1) & (len(t.entries) - 1)
	}
}

// growCapacity doubles a power-of-two capacity, starting at 8.
func growCapacity(c int) int {
	if c < 8 {
		return 8
	}
	return c * 2
}
