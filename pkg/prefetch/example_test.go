package prefetch_test

import (
	"context"
	"fmt"

	"github.com/ligustah/imgwarm/pkg/prefetch"
)

func ExamplePrefetcher_Start() {
	fetcher := prefetch.FetcherFunc(func(ctx context.Context, url string) prefetch.Result {
		return prefetch.Result{Outcome: prefetch.Succeeded}
	})
	p := prefetch.New(fetcher, prefetch.WithConcurrency(2))

	job := p.Start(context.Background(), []string{
		"https://img.example.com/a.png",
		"https://img.example.com/b.png",
	}, prefetch.WithCompletion(func(total, skipped int) {
		fmt.Printf("done: %d total, %d skipped\n", total, skipped)
	}))

	s, _ := job.Wait(context.Background())
	fmt.Println(s.State, s.Finished)
	// Output:
	// done: 2 total, 0 skipped
	// completed 2
}
