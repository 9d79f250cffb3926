package features

import (
	"runtime"
	"sync"

	"github.com/gomlx/qafeatures/windowing"
	"k8s.io/klog/v2"
)

// Builder builds features for batches of examples in parallel.
//
// Examples are split in contiguous chunks, one goroutine per chunk, and the features are returned in
// example order, identical to what BuildTrainingFeatures and BuildInferenceFeatures return.
type Builder struct {
	Windower *windowing.Windower

	// Workers is the number of goroutines to use. If <= 0, runtime.GOMAXPROCS(0) is used.
	Workers int
}

// NewBuilder creates a Builder using runtime.GOMAXPROCS(0) workers.
func NewBuilder(w *windowing.Windower) *Builder {
	return &Builder{Windower: w}
}

func (b *Builder) numWorkers(numExamples int) int {
	numWorkers := b.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return max(min(numWorkers, numExamples), 1)
}

// Training builds the training features of the examples.
func (b *Builder) Training(examples []Example) ([]TrainingFeature, error) {
	features, err := buildParallel(b.numWorkers(len(examples)), examples,
		func(index int, ex *Example) ([]TrainingFeature, error) {
			return trainingFeaturesFor(b.Windower, index, ex)
		})
	if err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() {
		var numAnswered int
		for i := range features {
			if features[i].HasAnswer() {
				numAnswered++
			}
		}
		klog.Infof("built %d training features (%d with answers) from %d examples",
			len(features), numAnswered, len(examples))
	}
	return features, nil
}

// Inference builds the inference features of the examples.
func (b *Builder) Inference(examples []Example) ([]InferenceFeature, error) {
	features, err := buildParallel(b.numWorkers(len(examples)), examples,
		func(index int, ex *Example) ([]InferenceFeature, error) {
			return inferenceFeaturesFor(b.Windower, index, ex)
		})
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("built %d inference features from %d examples", len(features), len(examples))
	return features, nil
}

// buildParallel runs build on every example, numWorkers contiguous chunks at a time, and concatenates the results
// in example order. The error of the first failing chunk is returned.
func buildParallel[F any](numWorkers int, examples []Example, build func(index int, ex *Example) ([]F, error)) ([]F, error) {
	perWorker := (len(examples) + numWorkers - 1) / numWorkers
	results := make([][]F, numWorkers)
	errs := make([]error, numWorkers)
	var wg sync.WaitGroup
	for worker := 0; worker < numWorkers; worker++ {
		start := worker * perWorker
		end := min(start+perWorker, len(examples))
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(worker, start, end int) {
			defer wg.Done()
			var r []F
			for i := start; i < end; i++ {
				f, err := build(i, &examples[i])
				if err != nil {
					errs[worker] = err
					return
				}
				r = append(r, f...)
			}
			results[worker] = r
		}(worker, start, end)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	var features []F
	for _, r := range results {
		features = append(features, r...)
	}
	return features, nil
}
