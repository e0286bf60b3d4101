// hello is the probe worker: it joins the ambient world, reports its
// rank, the world size and its host, and exits.
package main

import (
	"context"
	"fmt"

	"github.com/okapi-labs/worldctl/internal/observability"
	"github.com/okapi-labs/worldctl/internal/world"
	"github.com/rs/zerolog/log"
)

func main() {
	observability.InitLogger("hello")

	w, err := world.Join(context.Background(), world.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to join world")
	}
	defer w.Close()

	fmt.Println(w.Greeting())
}
