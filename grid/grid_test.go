package grid

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGrid(t *testing.T) {
	Convey("Given a 5x5 grid", t, func() {
		g := New(5)

		Convey("It starts with no obstacles", func() {
			So(g.IsObstacle(2, 2), ShouldBeFalse)
		})

		Convey("ReplaceObstacles marks the given cells and clears previous ones", func() {
			g.ReplaceObstacles([]Cell{{Row: 1, Col: 1}, {Row: 2, Col: 3}})
			So(g.IsObstacle(1, 1), ShouldBeTrue)
			So(g.IsObstacle(2, 3), ShouldBeTrue)
			So(g.IsObstacle(0, 0), ShouldBeFalse)

			g.ReplaceObstacles([]Cell{{Row: 0, Col: 0}})
			So(g.IsObstacle(1, 1), ShouldBeFalse)
			So(g.IsObstacle(0, 0), ShouldBeTrue)
		})

		Convey("Out-of-bounds cells are treated as obstacles", func() {
			So(g.IsObstacle(-1, 0), ShouldBeTrue)
			So(g.IsObstacle(0, 5), ShouldBeTrue)
		})

		Convey("ReplaceObstacles silently drops out-of-bounds cells", func() {
			g.ReplaceObstacles([]Cell{{Row: 99, Col: 99}})
			So(len(g.Obstacles()), ShouldEqual, 0)
		})
	})
}
