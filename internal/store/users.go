package store

import "github.com/portside/portside/models"

const usersKey = "users"

// UserKey returns the record key for a username.
func UserKey(username string) string {
	return username + "_user"
}

// GetUserByUsername returns the user stored under the given username.
func (s *Store) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	if err := s.getJSON(UserKey(username), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveUser writes the user record and keeps the user list in step.
func (s *Store) SaveUser(user *models.User) error {
	if err := s.putJSON(UserKey(user.Username), user); err != nil {
		return err
	}

	users, err := s.Users()
	if err != nil {
		return err
	}
	updated := make([]models.User, 0, len(users)+1)
	for _, u := range users {
		if u.Username != user.Username {
			updated = append(updated, u)
		}
	}
	updated = append(updated, *user)
	return s.putJSON(usersKey, updated)
}

// Users returns all panel users. A missing key is an empty list.
func (s *Store) Users() ([]models.User, error) {
	var users []models.User
	if err := s.getJSON(usersKey, &users); err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return users, nil
}
