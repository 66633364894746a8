// Package benchmark holds benchmarks of the dataset hot paths.
//
// Run them with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// Compare two runs with benchstat:
//
//	go test -bench=. -benchmem -count=5 ./internal/tests/benchmark/... | tee new.txt
//	benchstat old.txt new.txt
package benchmark
