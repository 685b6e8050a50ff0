// Package botname generates throwaway in-game usernames for bots
// created without an explicit name.
package botname

import (
	"fmt"
	"math/rand"
)

var prefixes = []string{
	"Bot", "MC", "Mine", "Craft", "Pixel", "Block", "Dig", "Creep", "Steve", "Alex",
	"Gold", "Iron", "Diamond", "Emerald", "Ruby", "Dirt", "Stone", "Lava", "Water", "Sky",
}

var adjectives = []string{
	"Super", "Awesome", "Cool", "Epic", "Mega", "Pro", "Elite", "Master", "Quick", "Fast",
	"Smart", "Clever", "Brave", "Bold", "Swift", "Tough", "Agile", "Nimble", "Strong", "Wise",
}

var suffixes = []string{
	"Player", "Miner", "Knight", "Warrior", "Hero", "Ninja", "Assassin", "Wizard", "Archer", "Scout",
	"Hunter", "Explorer", "Builder", "Creator", "Crafter", "Adventurer", "Wanderer", "Traveler", "Seeker", "Defender",
}

// Random returns a random bot username such as "Iron_Swift42".
func Random() string {
	prefix := prefixes[rand.Intn(len(prefixes))]
	adjective := adjectives[rand.Intn(len(adjectives))]
	suffix := suffixes[rand.Intn(len(suffixes))]
	n := rand.Intn(999) + 1

	formats := []string{
		fmt.Sprintf("%s_%s%d", prefix, adjective, n),
		fmt.Sprintf("%s%s%d", adjective, prefix, n),
		fmt.Sprintf("%s%d", prefix, n),
		fmt.Sprintf("%s_%s%d", adjective, suffix, n),
		fmt.Sprintf("%s%s%d", prefix, suffix, n),
		fmt.Sprintf("%s_%d", suffix, n),
	}
	return formats[rand.Intn(len(formats))]
}
