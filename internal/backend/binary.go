package backend

import (
	"path/filepath"
	"strings"
)

var binaryExtensions = map[string]struct{}{}

func init() {
	for _, ext := range strings.Fields(`
		3gp 7z a aac apk ar avi bin bmp bz2 class dat deb dll dmg dylib ear
		eot exe flac flv gif gz ico iso jar jpeg jpg lz lzma m4a m4v mkv mov
		mp3 mp4 mpeg mpg o obj ogg otf pdf png psd pyc rar rpm so swf tar
		tgz tif tiff ttf war wav webm webp woff woff2 xz zip zst`) {
		binaryExtensions["."+ext] = struct{}{}
	}
}

// IsBinaryPath reports whether the extension of path marks a binary file.
// The poller checks those files less often.
func IsBinaryPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	_, ok := binaryExtensions[ext]
	return ok
}
