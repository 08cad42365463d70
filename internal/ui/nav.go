package ui

// NavItem is one entry of the sidebar.
type NavItem struct {
	Label  string `json:"label"`
	Href   string `json:"href"`
	Icon   string `json:"icon"`
	Active bool   `json:"active"`
}

var navigation = []NavItem{
	{Label: "Dashboard", Href: "/", Icon: "home"},
	{Label: "Runs", Href: "/runs", Icon: "play"},
	{Label: "Settings", Href: "/settings", Icon: "cog"},
}

// Nav returns the sidebar items with the one matching path marked active.
func Nav(path string) []NavItem {
	items := make([]NavItem, len(navigation))
	copy(items, navigation)
	for i := range items {
		items[i].Active = items[i].Href == path
	}
	return items
}
