package main

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/IvanBrykalov/swipedeck/record"
)

var (
	firstNames = []string{"Ada", "Ben", "Cleo", "Dev", "Eli", "Fay", "Gus", "Hana", "Ivo", "Jun", "Kai", "Lea"}
	interests  = []string{"hiking", "jazz", "chess", "climbing", "cooking", "film", "running", "sailing", "tea", "vinyl"}
	bioWords   = []string{"loves", "quiet", "mornings", "long", "walks", "bad", "puns", "good", "coffee", "weekend", "trips", "and", "books"}
)

// generate builds n synthetic candidates. invalidPct percent of them lack a
// display name so sessions exercise the skip path.
func generate(n int, seed int64, invalidPct int) []record.Record {
	rnd := rand.New(rand.NewSource(seed))
	out := make([]record.Record, 0, n)
	for i := 0; i < n; i++ {
		r := record.Record{
			ID:   fmt.Sprintf("c-%d-%06d", seed&0xffff, i),
			Name: firstNames[rnd.Intn(len(firstNames))],
			Tags: pick(rnd, interests, 1+rnd.Intn(3)),
			Fields: map[string]string{
				"bio": strings.Join(pick(rnd, bioWords, 8+rnd.Intn(24)), " "),
			},
		}
		if rnd.Intn(4) > 0 {
			d := float64(rnd.Intn(500)) / 10
			r.Distance = &d
		}
		if rnd.Intn(100) < invalidPct {
			r.Name = ""
		}
		out = append(out, r)
	}
	return out
}

func pick(rnd *rand.Rand, from []string, k int) []string {
	out := make([]string, k)
	for i := range out {
		out[i] = from[rnd.Intn(len(from))]
	}
	return out
}
