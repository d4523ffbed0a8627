package reaction

import (
	"errors"
	"math"
	"math/rand"
	randv2 "math/rand/v2"
	"reflect"
	"testing"

	"github.com/todmy/psychometrics/internal/ndarray"
	"github.com/todmy/psychometrics/pkg/models"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

func uniform(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.05 + rng.Float64()
	}
	return out
}

func TestChiSquareRejectsNegative(t *testing.T) {
	samples := uniform(1, 30)
	for i := range samples {
		samples[i] -= 1.1
	}
	if _, err := ChiSquare(ndarray.Vector(samples), -1, DefaultOptions()); !errors.Is(err, ErrNegativeSample) {
		t.Errorf("expected ErrNegativeSample, got %v", err)
	}
}

func TestChiSquareVectorIsScalar(t *testing.T) {
	res, err := ChiSquare(ndarray.Vector(uniform(2, 30)), -1, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Peak.NDim() != 0 {
		t.Errorf("got shape %v, want scalar", res.Peak.Shape())
	}
	if len(res.Advisories) != 0 {
		t.Errorf("unexpected advisories %+v", res.Advisories)
	}
}

func TestChiSquareDropsAxis(t *testing.T) {
	samples, err := ndarray.New([]int{2, 3, 5}, uniform(3, 30))
	if err != nil {
		t.Fatal(err)
	}

	want := map[int][]int{
		-1: {2, 3},
		0:  {3, 5},
		1:  {2, 5},
		2:  {2, 3},
	}
	for axis, shape := range want {
		res, err := ChiSquare(samples, axis, DefaultOptions())
		if err != nil {
			t.Fatalf("axis %d: %v", axis, err)
		}
		if !reflect.DeepEqual(res.Peak.Shape(), shape) {
			t.Errorf("axis %d: shape %v, want %v", axis, res.Peak.Shape(), shape)
		}
	}

	if _, err := ChiSquare(samples, 3, DefaultOptions()); !errors.Is(err, ndarray.ErrAxis) {
		t.Errorf("expected ErrAxis, got %v", err)
	}
}

func TestChiSquareOutlierWarnsOnce(t *testing.T) {
	samples := append(uniform(4, 30), 100)
	res, err := ChiSquare(ndarray.Vector(samples), -1, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Advisories) != 1 || res.Advisories[0].Code != models.AdvisoryOutlierSample {
		t.Fatalf("advisories = %+v, want one outlier advisory", res.Advisories)
	}
	if v, _ := res.Peak.Float(); math.IsNaN(v) || math.IsInf(v, 0) {
		t.Errorf("peak = %v, want a finite value", v)
	}
}

func TestChiSquareMADOutlier(t *testing.T) {
	samples := []float64{0.30, 0.31, 0.32, 0.33, 0.34, 0.35, 0.36, 4.0}
	res, err := ChiSquare(ndarray.Vector(samples), -1, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Advisories) != 1 || res.Advisories[0].Count != 1 {
		t.Errorf("advisories = %+v", res.Advisories)
	}
}

func TestFitLaneSolvesLikelihood(t *testing.T) {
	samples := uniform(5, 50)
	f, err := FitLane(samples)
	if err != nil {
		t.Fatal(err)
	}

	var sum, sumLog float64
	for _, v := range samples {
		sum += v
		sumLog += math.Log(v)
	}
	mean := sum / float64(len(samples))
	s := math.Log(mean) - sumLog/float64(len(samples))

	alpha := f.DF / 2
	if got := math.Log(alpha) - mathext.Digamma(alpha); math.Abs(got-s) > 1e-8 {
		t.Errorf("likelihood equation residual %v", got-s)
	}
	if math.Abs(f.Scale*f.DF-mean) > 1e-9 {
		t.Errorf("df*scale = %v, want mean %v", f.Scale*f.DF, mean)
	}
	if want := (f.DF - 2) * f.Scale; math.Abs(f.Peak-want) > 1e-12 {
		t.Errorf("peak = %v, want %v", f.Peak, want)
	}
}

func TestFitLaneRecoversGammaMode(t *testing.T) {
	// Gamma(shape 3, scale 0.2) has mode 0.4
	g := distuv.Gamma{Alpha: 3, Beta: 5, Src: randv2.NewPCG(1, 2)}
	samples := make([]float64, 20000)
	for i := range samples {
		samples[i] = g.Rand()
	}

	f, err := FitLane(samples)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(f.Peak-0.4) > 0.03 {
		t.Errorf("peak = %v, want about 0.4", f.Peak)
	}
	if math.Abs(f.DF-6) > 0.5 {
		t.Errorf("df = %v, want about 6", f.DF)
	}
}

func TestFitLaneDegenerate(t *testing.T) {
	f, err := FitLane([]float64{0.4, 0.4, 0.4})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(f.Peak-0.4) > 1e-12 || !math.IsInf(f.DF, 1) {
		t.Errorf("identical samples: %+v", f)
	}

	f, _ = FitLane([]float64{0, 0.3, 0.5})
	if f.Peak != 0 || f.DF != 0 {
		t.Errorf("zero sample: %+v", f)
	}

	f, _ = FitLane(nil)
	if !math.IsNaN(f.Peak) {
		t.Errorf("empty lane: %+v", f)
	}
}
