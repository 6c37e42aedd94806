package main

import (
	"oss.terrastruct.com/util-go/xmain"

	"oss.terrastruct.com/pumlmd/pumlcli"
)

func main() {
	xmain.Main(pumlcli.Run)
}
