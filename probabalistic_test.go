package hll

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_smallRangeSmokeTest(t *testing.T) {
	m := 1 << uint(sparseTestSettings.Log2m)

	// only one register set
	{
		hll, err := NewHLL(sparseTestSettings)
		require.NoError(t, err)

		hll.AddRaw(constructHLLValue(sparseTestSettings.Log2m, 0, 1))
		assertSparse(t, hll)

		// Trivially true that small correction conditions hold: one register
		// set implies zeroes exist, and estimator trivially smaller than 5m/2.
		// Small range correction: m * log(m/V)
		expected := uint64(math.Ceil(float64(m) * math.Log(float64(m)/float64(m-1) /*# of zeroes*/)))
		assert.Equal(t, expected, hll.Cardinality())
	}
	// a single register at the maximum p(w) still sits in the small range
	{
		hll, err := NewHLL(sparseTestSettings)
		require.NoError(t, err)

		hll.AddRaw(constructHLLValue(sparseTestSettings.Log2m, 0, 31))
		assertSparse(t, hll)

		expected := uint64(math.Ceil(float64(m) * math.Log(float64(m)/float64(m-1) /*# of zeroes*/)))
		assert.Equal(t, expected, hll.Cardinality())
	}
	// at sparse capacity
	{
		hll, err := NewHLL(sparseTestSettings)
		require.NoError(t, err)

		for i := 0; i < hll.settings.sparseThreshold; i++ {
			hll.AddRaw(constructHLLValue(sparseTestSettings.Log2m, i, 1))
		}
		assertSparse(t, hll)

		// Small range correction: m * log(m/V)
		expected := uint64(math.Ceil(float64(m) * math.Log(float64(m)/float64(m-hll.settings.sparseThreshold) /*# of zeroes*/)))
		assert.Equal(t, expected, hll.Cardinality())
	}
	// all but one register set
	{
		hll, err := NewHLL(sparseTestSettings)
		require.NoError(t, err)

		for i := 0; i < m-1; i++ {
			hll.AddRaw(constructHLLValue(sparseTestSettings.Log2m, i, 1))
		}
		assertDense(t, hll)

		// Small range correction: m * log(m/V)
		expected := uint64(math.Ceil(float64(m) * math.Log(float64(m)/float64(1) /*# of zeroes*/)))
		assert.Equal(t, expected, hll.Cardinality())
	}
}

func Test_normalRangeSmokeTest(t *testing.T) {
	m := 1 << uint(sparseTestSettings.Log2m)
	// regwidth = 5, so hash space is
	// log2m + (2^5 - 1 - 1), so L = log2m + 30
	l := sparseTestSettings.Log2m + 30

	// all registers at 'medium' value
	{
		hll, err := NewHLL(sparseTestSettings)
		require.NoError(t, err)

		registerValue := 7 /*chosen to ensure neither correction kicks in*/
		for i := 0; i < m; i++ {
			hll.AddRaw(constructHLLValue(sparseTestSettings.Log2m, i, registerValue))
		}
		assertDense(t, hll)

		// Simplified estimator when all registers take same value: alpha / (m/2^val)
		twoToRegValue := 1 << uint(registerValue)
		estimator := alphaMSquared(sparseTestSettings.Log2m) / (float64(m) / float64(twoToRegValue))

		// Assert conditions for uncorrected range
		twoToLValue := 1 << uint(l)
		assert.True(t, estimator <= float64(twoToLValue)/30)
		assert.True(t, estimator > (float64(5)*float64(m)/float64(2)))

		expected := uint64(math.Ceil(estimator))
		assert.Equal(t, expected, hll.Cardinality())
	}
}

func Test_largeRangeSmokeTest(t *testing.T) {
	m := 1 << uint(sparseTestSettings.Log2m)
	// regwidth = 5, so hash space is
	// log2m + (2^5 - 1 - 1), so L = log2m + 30
	l := sparseTestSettings.Log2m + 30

	// all registers at large value
	{
		hll, err := NewHLL(sparseTestSettings)
		require.NoError(t, err)

		// NOTE : java test uses 31 here, but that is too large and results in
		//        NaN for cardinality calculation (PG agrees)
		registerValue := 28 /*chosen to ensure large correction kicks in*/
		for i := 0; i < m; i++ {
			hll.AddRaw(constructHLLValue(sparseTestSettings.Log2m, i, registerValue))
		}
		assertDense(t, hll)

		// Simplified estimator when all registers take same value: alpha / (m/2^val)
		twoToRegValue := 1 << uint(registerValue)
		estimator := alphaMSquared(sparseTestSettings.Log2m) / (float64(m) / float64(twoToRegValue))

		// Assert conditions for corrected range
		assert.True(t, estimator > math.Pow(2, float64(l))/30)

		// Large range correction: -2^L * log(1 - E/2^L)
		expected := uint64(math.Ceil(-1.0 * math.Pow(2, float64(l)) * math.Log(1.0-estimator/math.Pow(2, float64(l)))))
		assert.Equal(t, expected, hll.Cardinality())
	}
}

func Test_LargeEstimatorCutoff(t *testing.T) {

	for log2m := minLog2m; log2m <= maxLog2m; log2m++ {
		for regWidth := minRegWidth; regWidth <= maxRegWidth; regWidth++ {
			cutoff := twoToL(log2m, regWidth) / 30.0

			// See blog post (http://research.neustar.biz/2013/01/24/hyperloglog-googles-take-on-engineering-hll/)
			// and original paper (Fig. 3) for information on 2^L and "large
			// range correction" cutoff.
			expected := math.Pow(2, math.Pow(2, float64(regWidth))-2+float64(log2m)) / 30.0
			assert.Equal(t, expected, cutoff)
		}
	}
}

func Test_AlphaMSquared(t *testing.T) {

	tests := []struct {
		log2m    int
		expected float64
	}{
		{log2m: 4, expected: 0.673 * 16 * 16},
		{log2m: 5, expected: 0.697 * 32 * 32},
		{log2m: 6, expected: 0.709 * 64 * 64},
		{log2m: 11, expected: (0.7213 / (1.0 + 1.079/2048.0)) * 2048 * 2048},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, alphaMSquared(tt.log2m), "log2m == %d", tt.log2m)
	}
}
