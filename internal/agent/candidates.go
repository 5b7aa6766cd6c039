package agent

import (
	"sort"
	"strings"

	"github.com/marinoscar/Knecta-sub001/internal/discovery"
)

const (
	sourceConstraint = "constraint"
	sourceNameMatch  = "name_match"
)

// constraintCandidates converts explicit foreign-key constraints into
// relationship candidates, keeping only those whose endpoints are both among
// the selected tables.
func constraintCandidates(fks []discovery.ForeignKey, selected []string) []Candidate {
	sel := tableSet(selected)
	out := make([]Candidate, 0, len(fks))
	for _, fk := range fks {
		from := fk.FromSchema + "." + fk.FromTable
		to := fk.ToSchema + "." + fk.ToTable
		if !sel[from] || !sel[to] {
			continue
		}
		out = append(out, Candidate{
			FromTable:   from,
			FromColumns: fk.FromColumns,
			ToTable:     to,
			ToColumns:   fk.ToColumns,
			Source:      sourceConstraint,
			Confidence:  1.0,
		})
	}
	return out
}

// nameMatchCandidates scans column names for the "<table>_id" convention: a
// column on one table whose name matches the singular-or-plural name of
// another selected table plus an "_id" suffix, pointing at that table's
// primary key (or an "id" column when no key is declared).
func nameMatchCandidates(columnsByTable map[string][]discovery.Column) []Candidate {
	// map bare table name -> qualified refs carrying it
	byName := make(map[string][]string)
	for qualified := range columnsByTable {
		ref, err := discovery.ParseTableRef(qualified)
		if err != nil {
			continue
		}
		byName[strings.ToLower(ref.Table)] = append(byName[strings.ToLower(ref.Table)], qualified)
	}

	var out []Candidate
	for fromTable, cols := range columnsByTable {
		for _, col := range cols {
			name := strings.ToLower(col.Name)
			if !strings.HasSuffix(name, "_id") || len(name) <= 3 {
				continue
			}
			base := strings.TrimSuffix(name, "_id")
			for _, target := range matchTableNames(base, byName) {
				if target == fromTable {
					continue
				}
				key := primaryKeyColumn(columnsByTable[target])
				if key == "" {
					continue
				}
				out = append(out, Candidate{
					FromTable:   fromTable,
					FromColumns: []string{col.Name},
					ToTable:     target,
					ToColumns:   []string{key},
					Source:      sourceNameMatch,
					Confidence:  0.6,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromTable != out[j].FromTable {
			return out[i].FromTable < out[j].FromTable
		}
		return out[i].FromColumns[0] < out[j].FromColumns[0]
	})
	return out
}

// matchTableNames resolves a trimmed column prefix ("customer") against
// selected table names, tolerating a trailing plural "s" on the table side.
func matchTableNames(base string, byName map[string][]string) []string {
	if refs, ok := byName[base]; ok {
		return refs
	}
	if refs, ok := byName[base+"s"]; ok {
		return refs
	}
	return nil
}

func primaryKeyColumn(cols []discovery.Column) string {
	for _, c := range cols {
		if c.IsPrimaryKey {
			return c.Name
		}
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, "id") {
			return c.Name
		}
	}
	return ""
}

// dedupeCandidates drops name-match candidates shadowed by an explicit
// constraint over the same endpoints.
func dedupeCandidates(cands []Candidate) []Candidate {
	seen := make(map[string]bool, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		k := c.FromTable + "|" + strings.Join(c.FromColumns, ",") + "|" + c.ToTable
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

func tableSet(tables []string) map[string]bool {
	m := make(map[string]bool, len(tables))
	for _, t := range tables {
		m[t] = true
	}
	return m
}
