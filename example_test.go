package segdex_test

import (
	"context"
	"fmt"

	"github.com/hupe1980/segdex"
	"github.com/hupe1980/segdex/document"
)

func Example() {
	ctx := context.Background()

	ix, err := segdex.Open(ctx, segdex.Memory())
	if err != nil {
		panic(err)
	}
	defer ix.Close(ctx)

	for i, body := range []string{"the quick brown fox", "the lazy dog", "quick thinking"} {
		doc := document.New(
			document.NewStringField("id", fmt.Sprint(i), true),
			document.NewTextField("body", body, false),
		)
		if err := ix.Add(ctx, doc); err != nil {
			panic(err)
		}
	}
	if err := ix.Commit(ctx, nil); err != nil {
		panic(err)
	}

	r, err := ix.Reader(ctx)
	if err != nil {
		panic(err)
	}
	defer r.Close()

	df, _ := r.DocFreq(segdex.NewTerm("body", "quick"))
	fmt.Println("docs:", r.NumDocs())
	fmt.Println("quick:", df)
	// Output:
	// docs: 3
	// quick: 2
}

func ExampleIndex_Update() {
	ctx := context.Background()

	ix, err := segdex.Open(ctx, segdex.Memory())
	if err != nil {
		panic(err)
	}
	defer ix.Close(ctx)

	_ = ix.Add(ctx, document.New(document.NewStringField("id", "a", true), document.NewTextField("body", "draft", false)))
	_ = ix.Update(ctx, segdex.NewTerm("id", "a"), document.New(document.NewStringField("id", "a", true), document.NewTextField("body", "final", false)))

	r, err := ix.Reader(ctx)
	if err != nil {
		panic(err)
	}
	defer r.Close()

	draft, _ := r.DocFreq(segdex.NewTerm("body", "draft"))
	final, _ := r.DocFreq(segdex.NewTerm("body", "final"))
	fmt.Println(r.NumDocs(), draft, final)
	// Output: 1 1 1
}
