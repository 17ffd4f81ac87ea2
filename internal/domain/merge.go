package domain

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// ProductTable is the aggregated, time-indexed table of one product type.
type ProductTable struct {
	Product string
	Table   *Table
}

type joinKey struct {
	site, stamp string
}

// Merge inner-joins product tables on (site, timestamp) and renames native
// columns to canonical names. Tables are combined in product-name order, so
// the result is identical for every permutation of the input. A value column
// that appears in more than one product keeps its name in the first product
// and is suffixed with "_<product>" in the others.
func Merge(products []ProductTable) (*Table, error) {
	if len(products) == 0 {
		return nil, newError(ErrNoData, "merge", "", fmt.Errorf("no product tables given"))
	}
	ordered := slices.Clone(products)
	slices.SortFunc(ordered, func(a, b ProductTable) int { return strings.Compare(a.Product, b.Product) })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Product == ordered[i-1].Product {
			return nil, fmt.Errorf("merge: product %q given more than once", ordered[i].Product)
		}
	}

	rowIndex := make([]map[joinKey]int, len(ordered))
	for p, pt := range ordered {
		idx, err := keyIndex(pt)
		if err != nil {
			return nil, err
		}
		rowIndex[p] = idx
	}

	var keys []joinKey
	for k := range rowIndex[0] {
		inAll := true
		for _, idx := range rowIndex[1:] {
			if _, ok := idx[k]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		names := make([]string, len(ordered))
		for i, pt := range ordered {
			names[i] = pt.Product
		}
		return nil, newError(ErrEmptyJoin, "merge", "", fmt.Errorf("products %s share no (site, timestamp) keys", strings.Join(names, ", ")))
	}
	slices.SortFunc(keys, func(a, b joinKey) int {
		return cmp.Or(strings.Compare(a.site, b.site), strings.Compare(a.stamp, b.stamp))
	})

	out := NewTable()
	sites := make([]string, len(keys))
	stamps := make([]string, len(keys))
	for r, k := range keys {
		sites[r], stamps[r] = k.site, k.stamp
	}
	if err := out.AddText(SiteColumn, sites); err != nil {
		return nil, err
	}
	if err := out.AddText(TimestampColumn, stamps); err != nil {
		return nil, err
	}

	for p, pt := range ordered {
		rows := make([]int, len(keys))
		for r, k := range keys {
			rows[r] = rowIndex[p][k]
		}
		for _, c := range pt.Table.cols {
			if c.Name == SiteColumn || c.Name == TimestampColumn {
				continue
			}
			col := c.pick(rows)
			if out.Has(col.Name) {
				col.Name = col.Name + "_" + pt.Product
			}
			if err := out.insert(len(out.cols), col); err != nil {
				return nil, fmt.Errorf("merge: %w", err)
			}
		}
	}

	CanonicalizeColumns(out)
	return out, nil
}

func keyIndex(pt ProductTable) (map[joinKey]int, error) {
	sites, err := pt.Table.Texts(SiteColumn)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", pt.Product, err)
	}
	stamps, err := pt.Table.Texts(TimestampColumn)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", pt.Product, err)
	}
	idx := make(map[joinKey]int, len(sites))
	for i := range sites {
		k := joinKey{site: sites[i], stamp: stamps[i]}
		if _, dup := idx[k]; dup {
			return nil, fmt.Errorf("merge %s: duplicate key (%s, %s)", pt.Product, k.site, k.stamp)
		}
		idx[k] = i
	}
	return idx, nil
}
