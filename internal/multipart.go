package internal

import (
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
)

// File is an uploaded file stored in the temp directory for the lifetime of
// the request.
type File struct {
	// Name is the form field.
	Name        string
	Filename    string
	ContentType string
	Path        string
	Size        int64
}

// Open opens the stored upload for reading.
func (f *File) Open() (*os.File, error) {
	return os.Open(f.Path)
}

// Move renames the upload to dst so it survives the request.
func (f *File) Move(dst string) error {
	if err := os.Rename(f.Path, dst); err != nil {
		return err
	}
	f.Path = dst
	return nil
}

func (f *File) remove() {
	_ = os.Remove(f.Path)
}

// parseMultipart streams parts into form values and temp files under dir.
// exceeded reports that fields and files together passed limit bytes; the
// files written so far are removed in that case.
func parseMultipart(req *Request, dir string, limit int64) (url.Values, []*File, bool, error) {
	mr, err := req.MultipartReader()
	if err != nil {
		return nil, nil, false, err
	}

	values := make(url.Values)
	var files []*File
	fail := func() {
		for _, f := range files {
			f.remove()
		}
	}

	remaining := limit
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return values, files, false, nil
		}
		if err != nil {
			fail()
			return nil, nil, false, err
		}

		if part.FileName() == "" {
			data, err := io.ReadAll(io.LimitReader(part, remaining+1))
			part.Close()
			if err != nil {
				fail()
				return nil, nil, false, err
			}
			if remaining -= int64(len(data)); remaining < 0 {
				fail()
				return nil, nil, true, nil
			}
			values.Add(part.FormName(), string(data))
			continue
		}

		f, n, err := storePart(part, dir, remaining)
		part.Close()
		if f != nil {
			files = append(files, f)
		}
		if err != nil {
			fail()
			return nil, nil, false, err
		}
		if remaining -= n; remaining < 0 {
			fail()
			return nil, nil, true, nil
		}
	}
}

func storePart(part *multipart.Part, dir string, limit int64) (*File, int64, error) {
	tmp, err := os.CreateTemp(dir, "upload-*"+filepath.Ext(part.FileName()))
	if err != nil {
		return nil, 0, err
	}
	defer tmp.Close()

	f := &File{
		Name:        part.FormName(),
		Filename:    filepath.Base(part.FileName()),
		ContentType: part.Header.Get("Content-Type"),
		Path:        tmp.Name(),
	}
	n, err := io.Copy(tmp, io.LimitReader(part, limit+1))
	f.Size = n
	return f, n, err
}
