package fixed

import "github.com/govalues/decimal"

var (
	Zero    = Point{decimal.MustNew(0, 0)}
	One     = Point{decimal.MustNew(1, 0)}
	Two     = Point{decimal.MustNew(2, 0)}
	Ten     = Point{decimal.MustNew(10, 0)}
	Hundred = Point{decimal.MustNew(100, 0)}

	NegOne = Point{decimal.MustNew(-1, 0)}

	PointFive = Point{decimal.MustNew(5, 1)}

	TenThousand = Point{decimal.MustNew(10000, 0)}

	// Annualization factor for daily returns, sqrt(252 trading days).
	Sqrt252 = Point{decimal.MustNew(252, 0)}.Sqrt()
)
