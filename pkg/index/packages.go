package index

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/digest"
	version "github.com/knqyf263/go-deb-version"
)

const poolFile = "download.deb"

// PoolPath returns the path a package is served from,
// relative to the repository root. The same package
// coordinates may hold different bytes in two
// distributions, so the distribution is part of the path.
func PoolPath(distribution, component, name, version, arch string) string {
	return fmt.Sprintf("pool/%s/%s/%s/%s/%s/%s", distribution, component, name, version, arch, poolFile)
}

// Augment returns a copy of fields with the values we
// compute ourselves (location, size and digests) set.
func Augment(fields *control.Fields, distribution, component string, sums digest.Checksums) *control.Fields {
	out := fields.Clone()
	out.Set(control.FieldFilename, PoolPath(distribution, component, fields.Package(), fields.Version(), fields.Architecture()))
	out.Set(control.FieldSize, strconv.FormatInt(sums.Size, 10))
	out.Set(control.FieldMD5sum, sums.MD5)
	out.Set(control.FieldSHA1, sums.SHA1)
	out.Set(control.FieldSHA256, sums.SHA256)
	return out
}

// WritePackages serialises records as a Packages file.
// Records are ordered by name, version and architecture
// and separated by a single blank line.
func WritePackages(w io.Writer, distribution, component string, records []*control.Fields) error {
	bw := bufio.NewWriter(w)
	for i, rec := range sortRecords(records) {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		out := rec.Clone()
		out.Set(control.FieldFilename, PoolPath(distribution, component, rec.Package(), rec.Version(), rec.Architecture()))
		if _, err := out.WriteTo(bw); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func sortRecords(records []*control.Fields) []*control.Fields {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b *control.Fields) int {
		if c := cmp.Compare(a.Package(), b.Package()); c != 0 {
			return c
		}
		if c := compareVersions(a.Version(), b.Version()); c != 0 {
			return c
		}
		return cmp.Compare(a.Architecture(), b.Architecture())
	})
	return out
}

func compareVersions(a, b string) int {
	va, err := version.NewVersion(a)
	if err != nil {
		return cmp.Compare(a, b)
	}
	vb, err := version.NewVersion(b)
	if err != nil {
		return cmp.Compare(a, b)
	}
	return va.Compare(vb)
}
