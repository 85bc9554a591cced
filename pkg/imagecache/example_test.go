package imagecache_test

import (
	"context"
	"fmt"
	"log"

	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/imgwarm/pkg/imagecache"
)

func Example() {
	ctx := context.Background()

	cache, err := imagecache.Open(ctx, "mem://")
	if err != nil {
		log.Fatal(err)
	}
	defer cache.Close()

	url := "https://img.example.com/logo.gif"
	if err := cache.Put(ctx, url, []byte("GIF89a\x01\x00\x01\x00"), imagecache.Meta{}); err != nil {
		log.Fatal(err)
	}

	data, entry, err := cache.Get(ctx, url)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(len(data), entry.ContentType)
	// Output: 10 image/gif
}
