package schema

import "fmt"

// Unify computes the unified column layout of a sequence of headers.
// The first header is taken as is. For each later header, every name that
// occurs more often than in the layout so far gains the missing slots right
// after its last occurrence; names never seen before are appended.
// For every name the result holds as many slots as the largest per-header
// occurrence count.
func Unify(headers [][]string) []string {
	var unified []string
	for i, header := range headers {
		if i == 0 {
			unified = append(unified, header...)
			continue
		}

		have := occurrences(unified)
		need := occurrences(header)
		seen := make(map[string]bool, len(header))
		for _, name := range header {
			if seen[name] {
				continue
			}
			seen[name] = true

			excess := need[name] - have[name]
			if excess <= 0 {
				continue
			}
			if have[name] == 0 {
				for ; excess > 0; excess-- {
					unified = append(unified, name)
				}
				continue
			}
			at := lastIndex(unified, name) + 1
			slots := make([]string, excess)
			for j := range slots {
				slots[j] = name
			}
			unified = append(unified[:at], append(slots, unified[at:]...)...)
		}
	}
	return unified
}

// Align returns, for each column of header, the index of the unified slot
// it fills. The k-th occurrence of a name fills the k-th slot of that name,
// so no slot is bound twice.
func Align(header, unified []string) ([]int, error) {
	slots := make(map[string][]int, len(unified))
	for i, name := range unified {
		slots[name] = append(slots[name], i)
	}

	rank := make(map[string]int, len(header))
	mapping := make([]int, len(header))
	for i, name := range header {
		k := rank[name]
		rank[name]++
		if k >= len(slots[name]) {
			return nil, fmt.Errorf("column %q occurrence %d has no slot in the unified schema", name, k+1)
		}
		mapping[i] = slots[name][k]
	}
	return mapping, nil
}

// Reconcile merges tables into one table over their unified schema.
// Rows keep their input order; slots a table has no column for are null.
func Reconcile(tables []*Table) (*Table, error) {
	headers := make([][]string, 0, len(tables))
	for _, t := range tables {
		if len(t.Header) == 0 {
			continue
		}
		headers = append(headers, t.Header)
	}

	merged := &Table{Header: Unify(headers)}
	width := len(merged.Header)

	for n, t := range tables {
		if len(t.Header) == 0 {
			continue
		}
		mapping, err := Align(t.Header, merged.Header)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", n, err)
		}
		for _, row := range t.Rows {
			out := make([]Cell, width)
			for i, cell := range row {
				out[mapping[i]] = cell
			}
			merged.Rows = append(merged.Rows, out)
		}
	}
	return merged, nil
}

// ReconcileFiles reads the page files in order and reconciles them.
func ReconcileFiles(paths []string) (*Table, error) {
	tables := make([]*Table, 0, len(paths))
	for _, p := range paths {
		t, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return Reconcile(tables)
}

func occurrences(names []string) map[string]int {
	counts := make(map[string]int, len(names))
	for _, n := range names {
		counts[n]++
	}
	return counts
}

func lastIndex(names []string, name string) int {
	for i := len(names) - 1; i >= 0; i-- {
		if names[i] == name {
			return i
		}
	}
	return -1
}
