package autonav

import (
	"context"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"tankctl/command"
	"tankctl/detection"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	last command.Command
	src  command.Source
	n    int
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, cmd command.Command, source command.Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = cmd
	d.src = source
	d.n++
	return nil
}

func TestDecide(t *testing.T) {
	Convey("Given a 640-wide frame and the default person class", t, func() {
		classes := map[int]struct{}{0: {}}

		Convey("A centroid at 0.3*W yields Left (§8 scenario 6)", func() {
			boxes := []detection.Box{{X1: 172, X2: 212, ClassID: 0, Confidence: 0.9}} // centroid 192 = 0.3*640
			So(Decide(boxes, 640, classes), ShouldEqual, command.Left)
		})

		Convey("A centroid past 0.60*W yields Right", func() {
			boxes := []detection.Box{{X1: 400, X2: 440, ClassID: 0, Confidence: 0.9}} // centroid 420
			So(Decide(boxes, 640, classes), ShouldEqual, command.Right)
		})

		Convey("A centroid between the thresholds yields Stop", func() {
			boxes := []detection.Box{{X1: 300, X2: 340, ClassID: 0, Confidence: 0.9}} // centroid 320
			So(Decide(boxes, 640, classes), ShouldEqual, command.Stop)
		})

		Convey("No qualifying box yields Stop", func() {
			boxes := []detection.Box{{X1: 0, X2: 10, ClassID: 7, Confidence: 0.99}}
			So(Decide(boxes, 640, classes), ShouldEqual, command.Stop)
		})

		Convey("Among multiple qualifying boxes, the highest-confidence one wins", func() {
			boxes := []detection.Box{
				{X1: 400, X2: 440, ClassID: 0, Confidence: 0.4}, // would be Right
				{X1: 172, X2: 212, ClassID: 0, Confidence: 0.9}, // would be Left, higher confidence
			}
			So(Decide(boxes, 640, classes), ShouldEqual, command.Left)
		})
	})
}

func TestPolicyOnDetectionsRespectsEnabled(t *testing.T) {
	Convey("Given a disabled policy", t, func() {
		disp := &recordingDispatcher{}
		p := New(disp, []int{0})

		Convey("OnDetections never dispatches", func() {
			p.OnDetections(fakeFrame{w: 640}, []detection.Box{{X1: 172, X2: 212, ClassID: 0, Confidence: 0.9}})
			So(disp.n, ShouldEqual, 0)
		})
	})

	Convey("Given an enabled policy, OnDetections dispatches its decision under auto_nav (§4.6)", t, func() {
		disp := &recordingDispatcher{}
		p := New(disp, []int{0})
		p.SetEnabled(true)

		p.OnDetections(fakeFrame{w: 640}, []detection.Box{{X1: 172, X2: 212, ClassID: 0, Confidence: 0.9}})

		So(disp.n, ShouldEqual, 1)
		So(disp.last, ShouldEqual, command.Left)
		So(disp.src, ShouldEqual, command.SourceAutoNav)
	})
}

type fakeFrame struct{ w int }

func (f fakeFrame) Width() int { return f.w }
