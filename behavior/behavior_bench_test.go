package behavior

import (
	"testing"

	"github.com/nvr-ai/go-behavior/common"
)

// BenchmarkClassifierUpdate measures one frame of motion estimation plus
// classification with full histories.
func BenchmarkClassifierUpdate(b *testing.B) {
	est := NewMotionEstimator(DefaultMotionConfig())
	cls := NewClassifier(DefaultClassifierConfig())
	boxes := []common.BoundingBox{
		{X1: 10, Y1: 10, X2: 60, Y2: 60},
		{X1: 40, Y1: 25, X2: 95, Y2: 80},
	}
	for i := 0; i < 200; i++ {
		if v, ok := est.Update(boxes[i%2]); ok {
			cls.Observe(v)
		}
		cls.Update()
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if v, ok := est.Update(boxes[i%2]); ok {
			cls.Observe(v)
		}
		cls.Update()
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "updates/s")
}
