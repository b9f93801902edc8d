package diff3

// matchLines aligns a against b with the Myers shortest-edit-script
// algorithm and returns, for every line of a, the index of the line in b it
// is paired with, or -1 when the line was deleted. Pairings are strictly
// increasing.
//
// Runs in O((N+M)*D) time where D is the size of the edit script.
func matchLines(a, b []string) []int {
	match := make([]int, len(a))
	for i := range match {
		match[i] = -1
	}

	// Strip the common prefix and suffix first; they dominate for typical
	// patches and keep the search space small.
	pre := 0
	for pre < len(a) && pre < len(b) && a[pre] == b[pre] {
		match[pre] = pre
		pre++
	}
	suf := 0
	for suf < len(a)-pre && suf < len(b)-pre && a[len(a)-1-suf] == b[len(b)-1-suf] {
		match[len(a)-1-suf] = len(b) - 1 - suf
		suf++
	}

	ma := a[pre : len(a)-suf]
	mb := b[pre : len(b)-suf]
	for _, p := range myersPairs(ma, mb) {
		match[pre+p[0]] = pre + p[1]
	}
	return match
}

// myersPairs returns the (i, j) pairs of equal lines on a shortest edit
// path from a to b.
func myersPairs(a, b []string) [][2]int {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return nil
	}

	offset := n + m
	v := make([]int, 2*offset+2)
	var trace [][]int

	var final int
search:
	for d := 0; d <= n+m; d++ {
		snap := make([]int, len(v))
		copy(snap, v)
		trace = append(trace, snap)
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				final = d
				break search
			}
		}
	}

	var pairs [][2]int
	x, y := n, m
	for d := final; d >= 0; d-- {
		prev := trace[d]
		k := x - y
		var prevK int
		if d == 0 {
			prevK = k
		} else if k == -d || (k != d && prev[offset+k-1] < prev[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		startX := 0
		if d > 0 {
			startX = prev[offset+prevK]
			if prevK == k-1 {
				startX++
			}
		}
		startY := startX - k
		for x > startX && y > startY {
			x--
			y--
			pairs = append(pairs, [2]int{x, y})
		}
		if d > 0 {
			x = prev[offset+prevK]
			y = x - prevK
		}
	}

	for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	}
	return pairs
}
