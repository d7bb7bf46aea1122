package source

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/partmaster/internal/record"
)

// maxZIPEntry caps the decompressed size of one archive member.
const maxZIPEntry = 256 << 20

// parseZIP reads every supported member of an archive, in name order. Each
// raw record's SourceFile is set to the member name so provenance points at
// the file inside the archive.
func (l *FileLoader) parseZIP(ctx context.Context, data []byte) ([]record.Raw, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || hiddenEntry(f.Name) || !Supported(f.Name) {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ".zip") {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var out []record.Raw
	for _, f := range files {
		body, err := readZIPEntry(f)
		if err != nil {
			return nil, err
		}
		raws, err := l.Parse(ctx, f.Name, body)
		if err != nil {
			return nil, eris.Wrapf(err, "zip: parse %s", f.Name)
		}
		name := path.Base(f.Name)
		for i := range raws {
			raws[i].SourceFile = name
		}
		out = append(out, raws...)
	}
	return out, nil
}

func readZIPEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open %s", f.Name)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, maxZIPEntry+1))
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read %s", f.Name)
	}
	if len(body) > maxZIPEntry {
		return nil, eris.Errorf("zip: %s exceeds %d bytes", f.Name, maxZIPEntry)
	}
	return body, nil
}

// hiddenEntry skips OS metadata such as __MACOSX/ and dotfiles.
func hiddenEntry(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") || part == "__MACOSX" {
			return true
		}
	}
	return false
}
