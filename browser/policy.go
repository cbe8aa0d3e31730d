package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// shouldBlock reports whether a paused request must be aborted. Any URL that
// mentions the secure scheme is refused, including redirect targets carried
// in query strings. Everything else continues unmodified.
func shouldBlock(url string) bool {
	return strings.Contains(url, "https://")
}

// labelClickScript returns a script that clicks the first <tag> element whose
// first <span> child contains label, and evaluates to whether it found one.
// The arguments are JSON-encoded so labels with quotes stay inert.
func labelClickScript(tag, label string) string {
	t, _ := json.Marshal(tag)
	l, _ := json.Marshal(label)
	return fmt.Sprintf(`(function(tag, label) {
	var candidates = document.querySelectorAll(tag);
	for (var i = 0; i < candidates.length; i++) {
		var span = candidates[i].querySelector("span");
		if (span && span.textContent && span.textContent.indexOf(label) !== -1) {
			candidates[i].click();
			return true;
		}
	}
	return false;
})(%s, %s)`, t, l)
}
