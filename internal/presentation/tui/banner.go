package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the ASCII art banner for contextkit.
func PrintBanner(version string) {
	p := termenv.ColorProfile()
	// Using a subtle gradient-like color scheme (Indigo/Violet)
	s1 := termenv.String("                 _            _   _    _ _   ").Foreground(p.Color("#818cf8"))
	s2 := termenv.String("  ___ ___  _ __ | |_ _____  _| |_| | _(_) |_ ").Foreground(p.Color("#a78bfa"))
	s3 := termenv.String(" / __/ _ \\| '_ \\| __/ _ \\ \\/ / __| |/ / | __|").Foreground(p.Color("#c084fc"))
	s4 := termenv.String("| (_| (_) | | | | ||  __/>  <| |_|   <| | |_ ").Foreground(p.Color("#e879f9"))
	s5 := termenv.String(" \\___\\___/|_| |_|\\__\\___/_/\\_\\\\__|_|\\_\\_|\\__|").Foreground(p.Color("#f472b6"))
	ver := termenv.String("  " + version).Foreground(p.Color("#fb7185"))

	fmt.Println()
	fmt.Println(s1)
	fmt.Println(s2)
	fmt.Println(s3)
	fmt.Println(s4)
	fmt.Println(s5)
	fmt.Println(ver)
	fmt.Println()
}
