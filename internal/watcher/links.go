package watcher

import (
	"sort"

	"pathwatch/internal/backend"
)

// followLink points the watch for the followed file link at real, the path
// it resolves to. Changes to real are reprocessed under every link leading
// to it. A link that breaks keeps its old target watched so that the target
// coming back is seen.
func (watcher *Watcher) followLink(link, real string) {
	if real == "" || real == link {
		return
	}
	previous, held := watcher.links[link]
	if held && previous == real {
		return
	}
	if held {
		watcher.releaseLink(link)
	}
	watcher.links[link] = real
	sources, ok := watcher.linkTargets[real]
	if !ok {
		sources = make(map[string]struct{})
		watcher.linkTargets[real] = sources
	}
	sources[link] = struct{}{}
	watcher.watchPath(real)
	watcher.logger.Debug("link followed", map[string]string{"path": link, "target": real})
}

// releaseLink forgets link and drops the watch on its target once no link
// or tracked entry needs it.
func (watcher *Watcher) releaseLink(link string) {
	real, ok := watcher.links[link]
	if !ok {
		return
	}
	delete(watcher.links, link)
	sources := watcher.linkTargets[real]
	delete(sources, link)
	if len(sources) > 0 {
		return
	}
	delete(watcher.linkTargets, real)
	if _, tracked := watcher.tree.Get(real); tracked {
		return
	}
	watcher.unwatchPath(real)
}

// linksTo returns the links whose target is path, sorted.
func (watcher *Watcher) linksTo(path string) []string {
	sources := watcher.linkTargets[path]
	if len(sources) == 0 {
		return nil
	}
	links := make([]string, 0, len(sources))
	for link := range sources {
		links = append(links, link)
	}
	sort.Strings(links)
	return links
}

// reprocessLinks replays raw under each link that resolves to its path.
func (watcher *Watcher) reprocessLinks(raw backend.RawEvent) {
	for _, link := range watcher.linksTo(raw.Path) {
		watcher.process(backend.RawEvent{Path: link, Kind: raw.Kind, Op: raw.Op})
	}
}
