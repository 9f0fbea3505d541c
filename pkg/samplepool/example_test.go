package samplepool_test

import (
	"fmt"

	"github.com/ajitpratap0/stacksampler/pkg/samplepool"
)

type stack struct {
	name string
}

// Example walks a capacity-2 pool through its full cycle: two handles are
// retained, the third is handed back, and the retained ones drain out.
func Example() {
	p, err := samplepool.New[stack](2)
	if err != nil {
		panic(err)
	}

	for _, name := range []string{"A", "B", "C"} {
		if rejected, ok := p.Return(&stack{name: name}); !ok {
			fmt.Printf("rejected %s\n", rejected.name)
		}
	}
	fmt.Printf("held %d\n", p.Len())

	for {
		if _, ok := p.Take(); !ok {
			fmt.Println("empty")
			break
		}
		fmt.Println("took one")
	}

	// Output:
	// rejected C
	// held 2
	// took one
	// took one
	// empty
}
