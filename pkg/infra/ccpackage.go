package infra

import (
	"path/filepath"
	"strings"

	"github.com/hyperledger/fabric-sdk-go/pkg/fab/ccpackager/gopackager"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

// SplitGoPath splits an absolute chaincode directory such as
// /opt/gopath/src/github.com/cc into its GOPATH and import path around the
// last "src" segment.
func SplitGoPath(dir string) (goPath, ccPath string, err error) {
	if !filepath.IsAbs(dir) {
		return "", "", fab.Preconditionf("chaincode path %s is not absolute", dir)
	}

	segments := strings.Split(filepath.Clean(dir), string(filepath.Separator))
	src := -1
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == "src" {
			src = i
			break
		}
	}
	if src < 1 || src >= len(segments)-1 {
		return "", "", fab.Preconditionf("chaincode path %s must contain a 'src' segment in the middle, e.g. /opt/gopath/src/github.com/chaincode", dir)
	}

	goPath = strings.Join(segments[:src], string(filepath.Separator))
	if goPath == "" {
		goPath = string(filepath.Separator)
	}
	return goPath, strings.Join(segments[src+1:], "/"), nil
}

// PackageChaincode builds the tar.gz code package of the Go chaincode in dir.
// It returns the import path recorded in the deployment spec and the package.
func PackageChaincode(dir string) (string, []byte, error) {
	goPath, ccPath, err := SplitGoPath(dir)
	if err != nil {
		return "", nil, err
	}

	pkg, err := gopackager.NewCCPackage(ccPath, goPath)
	if err != nil {
		return "", nil, errors.WithMessagef(err, "failed to package chaincode %s", dir)
	}
	return ccPath, pkg.Code, nil
}
