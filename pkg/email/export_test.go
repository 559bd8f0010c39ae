package email

var PostmarkError = postmarkError
