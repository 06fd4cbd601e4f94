package logger

import (
	"runtime"
	"strings"
)

type PackageNameResolver struct {
	BasePackage string
	Depth       int
}

// PackageName returns the calling package path relative to BasePackage,
// ie "internal/consensus".
func (r *PackageNameResolver) PackageName() string {
	pc, _, _, _ := runtime.Caller(r.depth())
	pkg := runtime.FuncForPC(pc).Name()
	if _, after, found := strings.Cut(pkg, r.BasePackage); found {
		pkg = after
	}
	// drop the function name, receiver types never contain a slash
	i := strings.LastIndex(pkg, "/")
	if j := strings.Index(pkg[i+1:], "."); j >= 0 {
		pkg = pkg[:i+1+j]
	}
	return strings.Trim(pkg, "/")
}

func (r *PackageNameResolver) depth() int {
	// 2 because it's used from inside logging code. We want the caller of that.
	if r.Depth == 0 {
		return 2
	}
	return r.Depth
}
