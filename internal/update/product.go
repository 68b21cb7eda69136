package update

// Product identity used in registry requests and upgrade suggestions.
const (
	ProductName = "kode"
	PackageName = "@shareai-lab/kode"
)
