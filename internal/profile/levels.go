package profile

// level is one price row of a distribution; idx is the tick index.
type level struct {
	idx   int64
	count int64
}

// recompute derives POC, Value Area and VPOC from the current distributions.
func (p *Profile) recompute() {
	if len(p.tpo) == 0 {
		return
	}
	levels := make([]level, 0, len(p.tpo))
	for _, idx := range sortedKeys(p.tpo) {
		levels = append(levels, level{idx: idx, count: int64(len(p.tpo[idx]))})
	}

	prevPOC := p.index(p.TPO.POC)
	poc := pickPOC(levels, prevPOC)
	if levels[poc].idx == 0 {
		return
	}
	vah, val := valueArea(levels, poc)
	p.TPO.POC = p.price(levels[poc].idx)
	p.TPO.VAH = p.price(vah)
	p.TPO.VAL = p.price(val)

	if len(p.volume) == 0 {
		return
	}
	vols := make([]level, 0, len(p.volume))
	for _, idx := range sortedKeys(p.volume) {
		vols = append(vols, level{idx: idx, count: p.volume[idx]})
	}
	if v := pickVPOC(vols); v != 0 {
		p.VPOC = p.price(v)
	}
}

// pickPOC returns the position in levels (ascending by price) of the level
// with most TPOs; ties go to the level closest to prevPOC, then to the lower price.
func pickPOC(levels []level, prevPOC int64) int {
	best := 0
	for i := 1; i < len(levels); i++ {
		l, b := levels[i], levels[best]
		if l.count > b.count || l.count == b.count && absDiff(l.idx, prevPOC) < absDiff(b.idx, prevPOC) {
			best = i
		}
	}
	return best
}

// valueArea expands from the POC until 70% of all TPOs are included.
// Each step takes the next level above when its count is strictly larger
// than the next level below, else the level below when it has TPOs.
// Returns the highest and lowest included tick index.
func valueArea(levels []level, poc int) (vah, val int64) {
	var total int64
	for _, l := range levels {
		total += l.count
	}
	target := int64(float64(total) * valueAreaShare)

	current := levels[poc].count
	above, below := poc+1, poc-1
	hi, lo := poc, poc
	for current < target && (above < len(levels) || below >= 0) {
		var ca, cb int64
		if above < len(levels) {
			ca = levels[above].count
		}
		if below >= 0 {
			cb = levels[below].count
		}
		switch {
		case ca > cb:
			current += ca
			hi = above
			above++
		case cb > 0:
			current += cb
			lo = below
			below--
		default:
			return levels[hi].idx, levels[lo].idx
		}
	}
	return levels[hi].idx, levels[lo].idx
}

// pickVPOC returns the tick index with the highest volume, ties to the lower price.
func pickVPOC(vols []level) int64 {
	best := 0
	for i := 1; i < len(vols); i++ {
		if vols[i].count > vols[best].count {
			best = i
		}
	}
	return vols[best].idx
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
