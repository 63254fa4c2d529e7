package testing

import (
	"os"
	"path"
	"runtime"
)

func init() {
	// cd to the project root so every package test writes logs/ and db files to the same place
	//
	//   in some_test.go,
	//   import (
	//     _ "adhiba.xyz/iot-climate-service/pkg/testing"
	//   )

	_, filename, _, _ := runtime.Caller(0)
	dir := path.Join(path.Dir(filename), "..", "..")
	if err := os.Chdir(dir); err != nil {
		panic(err)
	}
}
