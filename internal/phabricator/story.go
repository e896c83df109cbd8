package phabricator

import (
	"regexp"
	"strconv"
)

// FeedStoryType is the only story type that carries revision activity.
const FeedStoryType = "PhabricatorApplicationTransactionFeedStory"

// Story is a parsed revision feed story.
type Story struct {
	Who         string
	Action      string
	Code        string // "D1234"
	DiffID      int
	Description string
}

// storyRe matches "<who> <action> D<n>: <description>". Actions that only
// touch reviewers or subscribers are not listed and so do not match.
var storyRe = regexp.MustCompile(`^(?P<who>\S+) ` +
	`(?P<action>created|abandoned|accepted|closed|reclaimed|reopened|commandeered|` +
	`requested review of|requested changes to|planned changes to) ` +
	`(?P<code>D(?P<id>\d+)): (?P<description>.*)`)

// ParseStory extracts the revision activity from a feed story's text.
func ParseStory(text string) (Story, bool) {
	m := storyRe.FindStringSubmatch(text)
	if m == nil {
		return Story{}, false
	}
	get := func(name string) string { return m[storyRe.SubexpIndex(name)] }

	id, err := strconv.Atoi(get("id"))
	if err != nil {
		return Story{}, false
	}
	return Story{
		Who:         get("who"),
		Action:      get("action"),
		Code:        get("code"),
		DiffID:      id,
		Description: get("description"),
	}, true
}
