package main

import (
	"os"

	"github.com/unionhall/referral-app/log"
	"github.com/unionhall/referral-app/referral/refcli"
)

func main() {
	if err := refcli.GetApp().Run(os.Args); err != nil {
		log.API.Fatal(err)
	}
}
