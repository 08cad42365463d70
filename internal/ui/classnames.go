package ui

import "strings"

var (
	textSizes   = set("xs", "sm", "base", "lg", "xl", "2xl", "3xl", "4xl")
	fontWeights = set("thin", "light", "normal", "medium", "semibold", "bold", "extrabold")
	displays    = set("block", "inline", "inline-block", "flex", "inline-flex", "grid", "hidden", "contents")
	// utilities whose value is everything after the first dash
	spacing = set("p", "px", "py", "pt", "pb", "pl", "pr", "m", "mx", "my", "mt", "mb", "ml", "mr",
		"w", "h", "gap", "shadow", "opacity", "z")

	borderWidths  = set("0", "2", "4", "8")
	borderStyles  = set("solid", "dashed", "dotted", "double", "none")
	borderSides   = set("t", "r", "b", "l", "x", "y", "s", "e")
	roundedSides  = set("t", "r", "b", "l", "s", "e", "tl", "tr", "br", "bl")
	bgSizes       = set("auto", "cover", "contain")
	bgPositions   = set("center", "top", "bottom", "left", "right", "left-top", "left-bottom", "right-top", "right-bottom")
	bgAttachments = set("fixed", "local", "scroll")
	bgRepeats     = set("repeat", "no-repeat", "repeat-x", "repeat-y", "repeat-round", "repeat-space")
)

// ClassNames joins CSS class lists for templates. Empty entries are skipped,
// duplicates collapse, and when two utilities set the same property
// ("px-2" then "px-4", "text-sm" then "text-lg") the later one wins and
// takes the later position.
func ClassNames(lists ...string) string {
	type entry struct {
		class string
		live  bool
	}
	var out []entry
	seen := make(map[string]int)
	for _, list := range lists {
		for _, class := range strings.Fields(list) {
			key := conflictKey(class)
			if i, ok := seen[key]; ok {
				out[i].live = false
			}
			seen[key] = len(out)
			out = append(out, entry{class: class, live: true})
		}
	}
	kept := make([]string, 0, len(out))
	for _, e := range out {
		if e.live {
			kept = append(kept, e.class)
		}
	}
	return strings.Join(kept, " ")
}

// conflictKey names the property a class sets, keeping variant prefixes
// such as "hover:" or "md:" so "px-2 md:px-4" does not collapse.
func conflictKey(class string) string {
	variant, base := "", class
	if i := strings.LastIndex(class, ":"); i >= 0 {
		variant, base = class[:i+1], class[i+1:]
	}
	if displays[base] {
		return variant + "display"
	}
	if base == "border" {
		return variant + "border-width"
	}
	if base == "rounded" {
		return variant + "rounded"
	}
	root, value, ok := strings.Cut(base, "-")
	if !ok {
		return class
	}
	switch {
	case root == "border":
		return variant + borderKey(value)
	case root == "rounded":
		return variant + roundedKey(value)
	case root == "bg":
		return variant + bgKey(value)
	case root == "text" && textSizes[value]:
		return variant + "text-size"
	case root == "text":
		return variant + "text-color"
	case root == "font" && fontWeights[value]:
		return variant + "font-weight"
	case spacing[root]:
		return variant + root
	}
	return class
}

// borderKey splits border width, per-side width, style and color.
func borderKey(value string) string {
	if borderWidths[value] {
		return "border-width"
	}
	if borderStyles[value] {
		return "border-style"
	}
	side, rest, _ := strings.Cut(value, "-")
	if borderSides[side] && (rest == "" || borderWidths[rest]) {
		return "border-width-" + side
	}
	if value == "opacity" || strings.HasPrefix(value, "opacity-") {
		return "border-opacity"
	}
	return "border-color"
}

func roundedKey(value string) string {
	side, _, _ := strings.Cut(value, "-")
	if roundedSides[side] {
		return "rounded-" + side
	}
	return "rounded"
}

// bgKey splits background color from opacity, size, position, attachment
// and repeat utilities.
func bgKey(value string) string {
	switch {
	case strings.HasPrefix(value, "opacity-"):
		return "bg-opacity"
	case bgSizes[value]:
		return "bg-size"
	case bgPositions[value]:
		return "bg-position"
	case bgAttachments[value]:
		return "bg-attachment"
	case bgRepeats[value]:
		return "bg-repeat"
	case strings.HasPrefix(value, "gradient-"):
		return "bg-image"
	}
	return "bg-color"
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
