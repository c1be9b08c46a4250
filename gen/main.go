package main

import (
	"github.com/starius/api2"
	"gitlab.com/moonship/presale"
)

func main() {
	api2.GenerateClient(presale.GetRoutes)
	api2.GenerateOpenApiSpec(&api2.TypesGenConfig{
		OutDir: "./openapi",
		Routes: []interface{}{presale.GetRoutes},
	})
}
