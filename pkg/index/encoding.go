package index

const packagesFile = "Packages"

func (e Encoding) Filename() string {
	switch e {
	case Gzip:
		return packagesFile + ".gz"
	case XZ:
		return packagesFile + ".xz"
	default:
		return packagesFile
	}
}

func (e Encoding) ContentType() string {
	switch e {
	case Gzip:
		return "application/gzip"
	case XZ:
		return "application/x-xz"
	default:
		return "text/plain"
	}
}

func (e Encoding) String() string {
	switch e {
	case Gzip:
		return "gzip"
	case XZ:
		return "xz"
	default:
		return "raw"
	}
}

// ParseEncoding maps a Packages filename to its encoding.
func ParseEncoding(filename string) (Encoding, bool) {
	for _, e := range Encodings {
		if e.Filename() == filename {
			return e, true
		}
	}
	return Raw, false
}
