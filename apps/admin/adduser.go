package main

import (
	"context"

	"github.com/anquinko/tuition/core"
	"github.com/anquinko/tuition/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, roles []string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if name = core.CleanString(name); name == "" {
		name = uname
	}

	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err == user.ErrNotFound {
		usr, err = cli.usrSvc.GetByUsernameOrEmail(ctx, email)
	}
	switch err {
	case nil:
		active := true
		uu := user.UpdateUser{
			Name:        name,
			Email:       email,
			PhoneNumber: usr.PhoneNumber,
			Address:     usr.Address,
			IsActive:    &active,
			Roles:       roles,
			Password:    pwd,
		}
		_, err = cli.usrSvc.Update(ctx, usr, uu)
		return err
	case user.ErrNotFound:
		nu := user.NewUser{
			Name:     name,
			Username: uname,
			Email:    email,
			Password: pwd,
			Roles:    roles,
		}
		_, err = cli.usrSvc.Create(ctx, nu)
		return err
	default:
		return err
	}
}
