package main

import (
	"context"

	"github.com/anquinko/tuition/core/user"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	_, err = cli.usrSvc.Update(ctx, usr, user.UpdateUser{
		Name:        usr.Name,
		Email:       usr.Email,
		PhoneNumber: usr.PhoneNumber,
		Address:     usr.Address,
		Password:    pwd,
	})
	return err
}
