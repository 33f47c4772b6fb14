package model

// Origin describes how a document entered the walk.
type Origin string

const (
	OriginFile       Origin = "file"
	OriginBytes      Origin = "bytes"
	OriginArchive    Origin = "archive"
	OriginAttachment Origin = "attachment"
	OriginIMAP       Origin = "imap"
)

// Document identifies a discovered file and its extraction status.
type Document struct {
	// Path is the logical path, e.g. "mail/a.zip/inner/b.txt".
	Path string `json:"path" yaml:"path"`
	// Location is where the bytes live on disk, possibly inside the scratch dir.
	Location  string `json:"-" yaml:"-"`
	Extension string `json:"extension" yaml:"extension"`
	Origin    Origin `json:"origin" yaml:"origin"`
	Container string `json:"container,omitempty" yaml:"container,omitempty"`
	ParentID  string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	SHA256    string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Size      int64  `json:"size" yaml:"size"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// WithError returns a copy of d carrying err. A nil err leaves the copy untouched.
func (d Document) WithError(err error) Document {
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

// Failed reports whether an error was attached.
func (d Document) Failed() bool {
	return d.Error != ""
}

// Attachment is a MIME part split off a message, before it is parsed itself.
type Attachment struct {
	Filename    string
	ContentType string
	ParentID    string
	Content     []byte
}
