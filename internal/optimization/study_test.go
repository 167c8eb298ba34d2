package optimization

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudyRecordAndBest(t *testing.T) {
	study, err := NewStudy(testSpace(t))
	require.NoError(t, err)

	_, ok := study.Best()
	assert.False(t, ok, "empty study has no best trial")

	losses := []float64{5, 3, 3, 7, math.NaN(), 1, 1}
	for i, loss := range losses {
		err := study.Record(Trial{Index: i, Configuration: testConfig(100+i, 5, "mse"), Loss: loss})
		require.NoError(t, err)
	}

	best, ok := study.Best()
	require.True(t, ok)
	assert.Equal(t, 5, best.Index, "ties keep the earliest trial")
	assert.Equal(t, 1.0, best.Loss)

	trials := study.Trials()
	require.Len(t, trials, len(losses))
	assert.True(t, math.IsInf(trials[4].Loss, 1), "NaN loss is stored as +Inf")
	for i, tr := range trials {
		assert.Equal(t, i, tr.Index)
		assert.Equal(t, TrialComplete, tr.State)
	}
}

func TestStudyRejectsBadTrials(t *testing.T) {
	study, err := NewStudy(testSpace(t))
	require.NoError(t, err)

	err = study.Record(Trial{Index: 1, Configuration: testConfig(100, 5, "mse"), Loss: 1})
	assert.True(t, errors.Is(err, ErrInvalidConfig), "gap in indices: %v", err)

	err = study.Record(Trial{Index: 0, Configuration: testConfig(1, 5, "mse"), Loss: 1})
	assert.True(t, errors.Is(err, ErrInvalidConfig), "out of bounds: %v", err)

	require.NoError(t, study.Record(Trial{Index: 0, Configuration: testConfig(100, 5, "mse"), Loss: 1}))
	err = study.Record(Trial{Index: 0, Configuration: testConfig(100, 5, "mse"), Loss: 1})
	assert.Error(t, err, "duplicate index")
	assert.Equal(t, 1, study.Len())

	_, err = NewStudy(nil)
	assert.True(t, errors.Is(err, ErrInvalidSpace))
}

func TestStudyBestIsArgmin(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for run := 0; run < 50; run++ {
		study, err := NewStudy(testSpace(t))
		require.NoError(t, err)

		n := 1 + rng.IntN(40)
		wantIdx, wantLoss := -1, math.Inf(1)
		for i := 0; i < n; i++ {
			// small integer losses make ties frequent
			loss := float64(rng.IntN(6))
			if rng.IntN(10) == 0 {
				loss = math.Inf(1)
			}
			require.NoError(t, study.Record(Trial{Index: i, Configuration: testConfig(100, 5, "mse"), Loss: loss}))
			if wantIdx < 0 || loss < wantLoss {
				wantIdx, wantLoss = i, loss
			}
		}

		best, ok := study.Best()
		require.True(t, ok)
		assert.Equal(t, wantIdx, best.Index)
		assert.Equal(t, wantLoss, best.Loss)
	}
}

func TestStudyConcurrentReaders(t *testing.T) {
	study, err := NewStudy(testSpace(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = study.Best()
					_ = study.Trials()
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		require.NoError(t, study.Record(Trial{Index: i, Configuration: testConfig(100, 5, "mse"), Loss: float64(200 - i)}))
	}
	close(stop)
	wg.Wait()

	best, _ := study.Best()
	assert.Equal(t, 199, best.Index)
}
