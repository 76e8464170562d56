package schema

// GenericCustomer is the built-in customer/contact target schema used when a
// job does not name a custom schema document.
var GenericCustomer = &Schema{
	Name:        "generic_customer",
	Version:     "1.0",
	Description: "Generic customer/contact schema",
	Columns: []*Column{
		{
			Name:              "first_name",
			Type:              TypeString,
			Required:          true,
			MaxLength:         100,
			CommonSourceNames: []string{"fname", "first", "first name", "firstname", "name", "full name", "fullname", "cust_name", "customer_name"},
		},
		{
			Name:              "last_name",
			Type:              TypeString,
			MaxLength:         100,
			CommonSourceNames: []string{"lname", "last", "last name", "lastname", "surname"},
		},
		{
			Name:              "email",
			Type:              TypeEmail,
			Pattern:           `^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`,
			CommonSourceNames: []string{"email", "email_id", "mail", "e-mail", "emailid"},
		},
		{
			Name:              "phone",
			Type:              TypePhone,
			CommonSourceNames: []string{"phone", "mobile", "contact", "mobile_no", "phone_no", "mob", "cell"},
		},
		{
			Name:              "address",
			Type:              TypeString,
			CommonSourceNames: []string{"address", "addr", "street", "location", "address1"},
		},
		{
			Name:              "city",
			Type:              TypeString,
			CommonSourceNames: []string{"city", "town", "district"},
		},
		{
			Name:              "state",
			Type:              TypeString,
			CommonSourceNames: []string{"state", "province", "region"},
		},
		{
			Name:              "pincode",
			Type:              TypeString,
			Pattern:           `^\d{6}$`,
			CommonSourceNames: []string{"pincode", "pin", "zip", "postal_code", "zipcode"},
		},
		{
			Name:              "country",
			Type:              TypeString,
			CommonSourceNames: []string{"country", "nation"},
		},
		{
			Name:              "joining_date",
			Type:              TypeDate,
			CommonSourceNames: []string{"joining date", "join_date", "doj", "date_of_joining", "start date", "date"},
		},
		{
			Name:              "gstin",
			Type:              TypeString,
			Pattern:           `^\d{2}[A-Z]{5}\d{4}[A-Z][A-Z\d]Z[A-Z\d]$`,
			CommonSourceNames: []string{"gstin", "gst", "gst_no", "gstno", "gst_number"},
		},
	},
	UniqueColumns: []string{"email", "gstin"},
}

func init() {
	Register(GenericCustomer)
}
