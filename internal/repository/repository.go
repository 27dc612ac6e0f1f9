// Package repository holds the in-memory receipt index of one tenant:
// every receipt by id plus the set of ids dated in each month.
//
// A Repository is always derived from receipt documents and can be thrown
// away and rebuilt at any time.
package repository

import (
	"iter"
	"slices"
	"sync"

	"taxos/internal/core"
	"taxos/internal/storage"
)

type Repository struct {
	mu      sync.RWMutex
	records map[core.ReceiptID]core.Receipt
	byMonth map[core.MonthKey]map[core.ReceiptID]struct{}
}

func New() *Repository {
	return &Repository{
		records: make(map[core.ReceiptID]core.Receipt),
		byMonth: make(map[core.MonthKey]map[core.ReceiptID]struct{}),
	}
}

// Add inserts or replaces r. When r moved to another month since it was
// last added, the stale month entry is dropped first.
func (r *Repository) Add(rec core.Receipt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	month := rec.Month()
	if prev, ok := r.records[rec.ID]; ok {
		if prevMonth := prev.Month(); prevMonth != month {
			r.unlinkLocked(prevMonth, rec.ID)
		}
	}

	r.records[rec.ID] = rec.Clone()
	set, ok := r.byMonth[month]
	if !ok {
		set = make(map[core.ReceiptID]struct{})
		r.byMonth[month] = set
	}
	set[rec.ID] = struct{}{}
}

// Remove deletes id and reports whether it was present.
func (r *Repository) Remove(id core.ReceiptID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.records[id]
	if !ok {
		return false
	}
	delete(r.records, id)
	r.unlinkLocked(prev.Month(), id)
	return true
}

func (r *Repository) unlinkLocked(month core.MonthKey, id core.ReceiptID) {
	set, ok := r.byMonth[month]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byMonth, month)
	}
}

// Get returns the receipt and false when it is unknown.
func (r *Repository) Get(id core.ReceiptID) (core.Receipt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return core.Receipt{}, false
	}
	return rec.Clone(), true
}

// IterByMonth yields the receipts of month in id order. Each range over
// the sequence takes a fresh snapshot of the month's ids; receipts removed
// meanwhile are skipped.
func (r *Repository) IterByMonth(month core.MonthKey) iter.Seq[core.Receipt] {
	return func(yield func(core.Receipt) bool) {
		for _, id := range r.monthIDs(month) {
			rec, ok := r.Get(id)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// All yields every receipt, month by month.
func (r *Repository) All() iter.Seq[core.Receipt] {
	return func(yield func(core.Receipt) bool) {
		for _, m := range r.Months() {
			for rec := range r.IterByMonth(m) {
				if !yield(rec) {
					return
				}
			}
		}
	}
}

func (r *Repository) monthIDs(month core.MonthKey) []core.ReceiptID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byMonth[month]
	ids := make([]core.ReceiptID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, core.ReceiptID.Compare)
	return ids
}

// Months returns the non-empty months in ascending order.
func (r *Repository) Months() []core.MonthKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	months := make([]core.MonthKey, 0, len(r.byMonth))
	for m := range r.byMonth {
		months = append(months, m)
	}
	slices.Sort(months)
	return months
}

// Len returns the number of receipts.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Select returns the receipts in months (every month when empty) that
// pass filter, ordered by date then id.
func (r *Repository) Select(filter core.ListFilter) []core.Receipt {
	months := filter.Months
	if len(months) == 0 {
		months = r.Months()
	} else {
		months = slices.Clone(months)
		slices.Sort(months)
		months = slices.Compact(months)
	}

	var out []core.Receipt
	for _, m := range months {
		for rec := range r.IterByMonth(m) {
			if filter.Matches(rec) {
				out = append(out, rec)
			}
		}
	}
	core.SortReceipts(out)
	return out
}

// Index projects the month sets into the persisted id-only form.
func (r *Repository) Index() storage.MonthIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ix := make(storage.MonthIndex, len(r.byMonth))
	for m, set := range r.byMonth {
		ids := make([]core.ReceiptID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, core.ReceiptID.Compare)
		ix[m] = ids
	}
	return ix
}
