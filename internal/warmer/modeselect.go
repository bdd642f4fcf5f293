package warmer

// Mode tags how a cycle delivers its messages.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeGroup  Mode = "group"
)

// modeSelector chooses direct vs group per cycle. It draws a number in 1..10
// and classifies it by parity (even = direct, odd = group). When the running
// counts diverge, the next draw is forced to the minority parity, so the two
// modes stay within one pick of each other over time without being a strict
// alternation.
type modeSelector struct {
	even, odd int
	intn      func(n int) int
}

func (m *modeSelector) next() Mode {
	var n int
	switch {
	case m.even == m.odd:
		n = 1 + m.intn(10)
	case m.even < m.odd:
		n = 2 * (1 + m.intn(5)) // 2,4,6,8,10
	default:
		n = 2*(1+m.intn(5)) - 1 // 1,3,5,7,9
	}
	if n%2 == 0 {
		m.even++
		return ModeDirect
	}
	m.odd++
	return ModeGroup
}

func (m *modeSelector) balance() (even, odd int) { return m.even, m.odd }

func (m *modeSelector) reset() { m.even, m.odd = 0, 0 }
