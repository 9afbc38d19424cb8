package hashtag

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Member is one row of the recipient directory.
type Member struct {
	ID      string
	Hashtag string
}

// Directory maps location hashtags to the members that want to be mentioned for them.
// It is built once at startup and read-only afterwards.
type Directory struct {
	members   map[string][]string
	memberIDs map[string]bool
}

// LoadFile reads a directory from a two-column (member_id, hashtag) CSV file.
// When header is true the first row is skipped.
func LoadFile(path string, header bool) (*Directory, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open members file %s", path)
	}
	defer file.Close()

	directory, err := Load(file, header)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load members file %s", path)
	}

	return directory, nil
}

// Load reads a directory from CSV. Rows that repeat an earlier (member_id, hashtag) pair are dropped.
func Load(r io.Reader, header bool) (*Directory, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	var rows []Member
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "malformed members CSV")
		}

		line++
		if header && line == 1 {
			continue
		}

		member := Member{
			ID:      strings.TrimSpace(record[0]),
			Hashtag: normalizeHashtag(record[1]),
		}
		if member.ID == "" || member.Hashtag == "" {
			return nil, errors.Errorf("members CSV line %d: member_id and hashtag are required", line)
		}

		rows = append(rows, member)
	}

	return New(rows), nil
}

// New builds a directory from members, preserving their order per hashtag.
func New(members []Member) *Directory {
	d := &Directory{
		members:   make(map[string][]string),
		memberIDs: make(map[string]bool),
	}

	seen := make(map[Member]bool, len(members))
	for _, member := range members {
		if seen[member] {
			continue
		}
		seen[member] = true

		d.members[member.Hashtag] = append(d.members[member.Hashtag], member.ID)
		d.memberIDs[member.ID] = true
	}

	return d
}

// Recipients returns the member ids registered for hashtag. Unknown hashtags have no recipients.
func (d *Directory) Recipients(hashtag string) []string {
	if d == nil {
		return nil
	}

	ids := d.members[normalizeHashtag(hashtag)]
	if len(ids) == 0 {
		return nil
	}

	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// MemberCount returns the number of distinct members.
func (d *Directory) MemberCount() int {
	if d == nil {
		return 0
	}
	return len(d.memberIDs)
}

// HashtagCount returns the number of distinct hashtags.
func (d *Directory) HashtagCount() int {
	if d == nil {
		return 0
	}
	return len(d.members)
}

// Hashtags returns the known hashtags, sorted.
func (d *Directory) Hashtags() []string {
	if d == nil {
		return nil
	}

	tags := make([]string, 0, len(d.members))
	for tag := range d.members {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// normalizeHashtag trims whitespace and adds the leading '#' when the file omits it.
func normalizeHashtag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.HasPrefix(tag, "#") {
		return tag
	}
	return "#" + tag
}
